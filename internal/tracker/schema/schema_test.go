package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestParseStamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{name: "millisecond iso", in: "2026-01-10T07:36:29.123Z", want: 1768030589123},
		{name: "rfc3339", in: "2026-01-10T07:36:29Z", want: 1768030589000},
		{name: "offset", in: "2026-01-10T17:36:29+10:00", want: 1768030589000},
		{name: "date only", in: "2026-01-10", want: 1768003200000},
		{name: "epoch millis", in: "1768030589123", want: 1768030589123},
		{name: "empty", in: "", want: 0},
		{name: "garbage", in: "not a date", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStamp(tt.in).Millis()
			if got != tt.want {
				t.Errorf("ParseStamp(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestStampJSON(t *testing.T) {
	type wrapper struct {
		At Stamp `json:"at,omitzero"`
	}

	ts := time.Date(2026, 1, 10, 7, 36, 29, 123456789, time.UTC)
	data, err := json.Marshal(wrapper{At: NewStamp(ts)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"at":"2026-01-10T07:36:29.123Z"}` {
		t.Errorf("unexpected json %s", data)
	}

	data, err = json.Marshal(wrapper{})
	if err != nil {
		t.Fatalf("marshal zero: %v", err)
	}
	if string(data) != `{}` {
		t.Errorf("zero stamp should be omitted, got %s", data)
	}

	for _, raw := range []string{`{"at":null}`, `{"at":"bogus"}`, `{"at":{}}`, `{"at":true}`} {
		var w wrapper
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			t.Errorf("Unmarshal(%s) returned error: %v", raw, err)
		}
		if !w.At.IsZero() {
			t.Errorf("Unmarshal(%s) = %v, want zero", raw, w.At)
		}
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"at":1768030589123}`), &w); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if w.At.Millis() != 1768030589123 {
		t.Errorf("numeric stamp = %d", w.At.Millis())
	}
}

func TestStateRoundTripKeepsLegacyShape(t *testing.T) {
	legacy := `{
	  "jobs": {
	    "jobs": [{"id":"1","category":"Repair","customerName":"Sam","phoneNumber":"0400","address":"",
	      "importance":"High","description":"Diff rebuild","date":"2026-01-10","items":[{"description":"bearing","price":120}],
	      "status":"complete","totalPaid":120,"completedAt":"2026-01-12T00:00:00.000Z","isArchived":false,
	      "updatedAt":"2026-01-12T00:00:00.000Z"}],
	    "audit": [{"id":"1768-abc","jobId":"1","action":"JOB_CREATED","timestamp":"2026-01-10T00:00:00.000Z","summary":"Job 1 created for Sam.","client_id":"station-a"}]
	  },
	  "queries": {"queries": []},
	  "bookings": {"bookings": [{"id":"0","customerName":"Lee","phoneNumber":"0411","carMake":"Toyota","carModel":"Hilux","date":"2026-02-01","status":"confirmed"}]}
	}`

	s, err := UnmarshalState([]byte(legacy))
	if err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}
	if len(s.Jobs.Jobs) != 1 || s.Jobs.Jobs[0].CustomerName != "Sam" {
		t.Fatalf("unexpected jobs %+v", s.Jobs.Jobs)
	}
	if s.Jobs.Audit[0].ClientID != "station-a" {
		t.Errorf("client_id not decoded: %+v", s.Jobs.Audit[0])
	}

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"customerName":"Sam"`, `"completedAt":"2026-01-12T00:00:00.000Z"`, `"client_id":"station-a"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("marshalled state missing %s", key)
		}
	}

	again, err := UnmarshalState(data)
	if err != nil {
		t.Fatalf("UnmarshalState again: %v", err)
	}
	if diff := cmp.Diff(s, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStateYAMLInlinesRecord(t *testing.T) {
	s := Empty()
	s.Jobs.Jobs = []Job{{Record: Record{ID: "3", UpdatedAt: ParseStamp("2026-01-10T00:00:00Z")}, CustomerName: "Ana"}}

	data, err := yaml.Marshal(s)
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}
	if !strings.Contains(string(data), "id: \"3\"") {
		t.Errorf("record fields not inlined:\n%s", data)
	}

	var back State
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if back.Jobs.Jobs[0].ID != "3" || back.Jobs.Jobs[0].UpdatedAt.Millis() != s.Jobs.Jobs[0].UpdatedAt.Millis() {
		t.Errorf("yaml round trip lost record fields: %+v", back.Jobs.Jobs[0])
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	kept := ParseStamp("2026-01-01T00:00:00Z")

	s := State{
		Jobs: JobsState{Jobs: []Job{
			{Record: Record{ID: "1"}},
			{Record: Record{ID: "2", UpdatedAt: kept}, Importance: ImportanceUrgent, Status: StatusComplete},
		}},
		Queries:  QueriesState{Queries: []Query{{Record: Record{ID: "1"}}}},
		Bookings: BookingsState{Bookings: []Booking{{Record: Record{ID: "1"}}}},
	}

	got := s.Normalize(now)

	if got.Jobs.Audit == nil {
		t.Error("audit should be an empty slice")
	}
	first := got.Jobs.Jobs[0]
	if !first.UpdatedAt.Equal(now) {
		t.Errorf("missing updatedAt not stamped: %v", first.UpdatedAt)
	}
	if first.Importance != ImportanceMedium || first.Status != StatusNotStarted || first.Items == nil {
		t.Errorf("job defaults not applied: %+v", first)
	}
	second := got.Jobs.Jobs[1]
	if !second.UpdatedAt.Equal(kept.Time) || second.Importance != ImportanceUrgent {
		t.Errorf("existing values overwritten: %+v", second)
	}
	if !got.Queries.Queries[0].UpdatedAt.Equal(now) || !got.Bookings.Bookings[0].UpdatedAt.Equal(now) {
		t.Error("queries and bookings should be stamped")
	}
	if !s.Jobs.Jobs[0].UpdatedAt.IsZero() {
		t.Error("Normalize must not modify its receiver")
	}
}

func TestJobPayment(t *testing.T) {
	tests := []struct {
		name     string
		items    []JobItem
		paid     float64
		wantPaid bool
	}{
		{name: "exact", items: []JobItem{{Price: 100}, {Price: 50}}, paid: 150, wantPaid: true},
		{name: "overpaid", items: []JobItem{{Price: 100}}, paid: 120, wantPaid: true},
		{name: "underpaid", items: []JobItem{{Price: 100}, {Price: 50}}, paid: 100, wantPaid: false},
		{name: "no items", items: nil, paid: 0, wantPaid: true},
		{name: "zero priced", items: []JobItem{{Price: 0}}, paid: 0, wantPaid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Job{Items: tt.items, TotalPaid: tt.paid}
			if got := j.IsFullyPaid(); got != tt.wantPaid {
				t.Errorf("IsFullyPaid() = %v, want %v", got, tt.wantPaid)
			}
		})
	}
}

func TestNextID(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{name: "empty", existing: nil, want: "0"},
		{name: "sequential", existing: []string{"0", "1", "2"}, want: "3"},
		{name: "gaps", existing: []string{"7", "3"}, want: "8"},
		{name: "non numeric ignored", existing: []string{"abc", "4"}, want: "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextID(IDSequential, tt.existing); got != tt.want {
				t.Errorf("NextID() = %q, want %q", got, tt.want)
			}
		})
	}

	id := NextID(IDUUID, []string{"1"})
	if len(id) != 36 {
		t.Errorf("uuid strategy returned %q", id)
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"complete":       StatusComplete,
		"In-Progress":    StatusInProgress,
		"awaiting_parts": StatusAwaitingParts,
		"done":           StatusComplete,
	} {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseStatus("shipped"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestParseImportance(t *testing.T) {
	got, err := ParseImportance(" urgent ")
	if err != nil || got != ImportanceUrgent {
		t.Errorf("ParseImportance = %q, %v", got, err)
	}
	if _, err := ParseImportance("critical"); err == nil {
		t.Error("expected error for unknown importance")
	}
}

func TestNewAuditID(t *testing.T) {
	now := time.UnixMilli(1768030589123)
	a, b := NewAuditID(now), NewAuditID(now)
	if a == b {
		t.Errorf("audit ids collide: %s", a)
	}
	if !strings.HasPrefix(a, "1768030589123-") {
		t.Errorf("audit id %q missing timestamp prefix", a)
	}
}
