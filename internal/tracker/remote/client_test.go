package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

func audit(id, client string) schema.AuditEntry {
	return schema.AuditEntry{ID: id, Action: schema.AuditJobUpdated, ClientID: client, Summary: "entry " + id}
}

func ids(entries []schema.AuditEntry) []string {
	out := []string{}
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestPendingAudit(t *testing.T) {
	log := []schema.AuditEntry{
		audit("5", "me"),
		audit("4", "other"),
		audit("3", ""),
		audit("2", "me"),
		audit("1", "me"),
	}

	tests := []struct {
		name  string
		since string
		want  []string
	}{
		{name: "watermark found", since: "2", want: []string{"5", "3"}},
		{name: "watermark is newest", since: "5", want: []string{}},
		{name: "watermark missing", since: "gone", want: []string{"5", "3", "2", "1"}},
		{name: "no watermark", since: "", want: []string{"5", "3", "2", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(PendingAudit(log, tt.since, "me"))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("PendingAudit() (-want +got):\n%s", diff)
			}
		})
	}
}

func testState() schema.State {
	s := schema.Empty()
	s.Jobs.Jobs = []schema.Job{
		{Record: schema.Record{ID: "1", UpdatedAt: schema.ParseStamp("2026-03-01T10:00:00Z")}, CustomerName: "Sam"},
	}
	s.Jobs.Audit = []schema.AuditEntry{audit("2", ""), audit("1", "me")}
	s.Bookings.Bookings = []schema.Booking{{Record: schema.Record{ID: "1"}, CustomerName: "Ana", Date: "2026-03-02"}}
	return s
}

func TestPushAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	client := NewClient(backend, "me", nil)

	mark, err := client.Push(ctx, testState(), "")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if mark != "2" {
		t.Errorf("watermark = %q, want newest audit id", mark)
	}

	if n := backend.Len(TableJobs); n != 1 {
		t.Errorf("jobs rows = %d", n)
	}
	if n := backend.Len(TableQueries); n != 0 {
		t.Errorf("empty queries slice was pushed: %d rows", n)
	}
	if n := backend.Len(TableBookings); n != 1 {
		t.Errorf("bookings rows = %d", n)
	}

	got, err := client.FetchAudit(ctx)
	if err != nil {
		t.Fatalf("FetchAudit() error = %v", err)
	}
	for _, e := range got {
		if e.ClientID != "me" {
			t.Errorf("audit %s pushed with client_id %q", e.ID, e.ClientID)
		}
	}
	if len(got) != 2 {
		t.Errorf("audit rows = %d, want 2", len(got))
	}
}

func TestPushFailureKeepsWatermark(t *testing.T) {
	backend := NewMemoryBackend()
	backend.FailWith(errors.New("offline"))
	client := NewClient(backend, "me", nil)

	mark, err := client.Push(context.Background(), testState(), "1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if mark != "1" {
		t.Errorf("watermark moved to %q on failure", mark)
	}
}

func TestPushEmptyAuditKeepsWatermark(t *testing.T) {
	client := NewClient(NewMemoryBackend(), "me", nil)

	state := testState()
	state.Jobs.Audit = []schema.AuditEntry{}
	mark, err := client.Push(context.Background(), state, "41-abc")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if mark != "41-abc" {
		t.Errorf("watermark = %q, want unchanged", mark)
	}
}

func TestFetchSkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	rows := []Row{
		mustRow(t, `{"id":"1","customer_name":"Sam"}`),
		mustRow(t, `{"id":"2","total_paid":"lots"}`),
		mustRow(t, `{"id":"3","customerName":"Lee"}`),
	}
	if err := backend.Upsert(ctx, TableJobs, rows, "id"); err != nil {
		t.Fatal(err)
	}

	jobs, err := NewClient(backend, "me", nil).FetchJobs(ctx)
	if err != nil {
		t.Fatalf("FetchJobs() error = %v", err)
	}
	var got []string
	for _, j := range jobs {
		got = append(got, j.ID+":"+j.CustomerName)
	}
	if diff := cmp.Diff([]string{"1:Sam", "3:Lee"}, got); diff != "" {
		t.Errorf("FetchJobs() (-want +got):\n%s", diff)
	}
}

func TestFetchAuditNewestFirstAndLimited(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var rows []auditRow
	for i := 0; i < AuditFetchLimit+20; i++ {
		e := schema.AuditEntry{
			ID:        fmt.Sprintf("a%03d", i),
			Action:    schema.AuditJobUpdated,
			Timestamp: schema.NewStamp(base.Add(time.Duration(i) * time.Minute)),
		}
		rows = append(rows, encodeAudit(e, "x"))
	}
	if err := backend.Upsert(ctx, TableAudit, rows, "id"); err != nil {
		t.Fatal(err)
	}

	got, err := NewClient(backend, "me", nil).FetchAudit(ctx)
	if err != nil {
		t.Fatalf("FetchAudit() error = %v", err)
	}
	if len(got) != AuditFetchLimit {
		t.Fatalf("got %d entries, want %d", len(got), AuditFetchLimit)
	}
	if got[0].ID != fmt.Sprintf("a%03d", AuditFetchLimit+19) {
		t.Errorf("first entry %s is not the newest", got[0].ID)
	}
}

func TestFetchAllJoinsErrors(t *testing.T) {
	backend := NewMemoryBackend()
	backend.FailWith(errors.New("timeout"))

	snap, err := NewClient(backend, "me", nil).FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if snap.Jobs != nil || snap.Audit != nil || snap.Queries != nil || snap.Bookings != nil {
		t.Errorf("failed tables should be nil: %+v", snap)
	}

	backend.FailWith(nil)
	snap, err = NewClient(backend, "me", nil).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if snap.Jobs == nil || snap.Audit == nil || snap.Queries == nil || snap.Bookings == nil {
		t.Errorf("empty tables should be non-nil: %+v", snap)
	}
}

func TestSubscribeDropsSelfEcho(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	mine := NewClient(backend, "me", nil)
	theirs := NewClient(backend, "them", nil)

	var (
		mu     sync.Mutex
		events []Event
	)
	sub, err := mine.Subscribe(ctx, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	state := schema.Empty()
	state.Jobs.Audit = []schema.AuditEntry{audit("1", "")}
	if _, err := mine.Push(ctx, state, ""); err != nil {
		t.Fatal(err)
	}

	other := testState()
	other.Jobs.Audit = []schema.AuditEntry{audit("9", "them")}
	if _, err := theirs.Push(ctx, other, ""); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()

	var got []string
	for _, e := range events {
		label := string(e.Table)
		if e.Audit != nil {
			label += ":" + e.Audit.ID
		}
		got = append(got, label)
	}
	want := []string{"jobs", "bookings", "job_audit:9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSubscriptionEndsWhenFeedDrops(t *testing.T) {
	backend := NewMemoryBackend()
	sub, err := NewClient(backend, "me", nil).Subscribe(context.Background(), func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	lost := errors.New("socket closed")
	backend.DropSubscriptions(lost)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	if !errors.Is(sub.Err(), lost) {
		t.Errorf("Err() = %v, want %v", sub.Err(), lost)
	}
}

func TestConnectNotConfigured(t *testing.T) {
	tests := []Settings{
		{},
		{URL: "https://example.supabase.co"},
		{Key: "anon"},
		{Driver: DriverPostgres},
	}
	for _, s := range tests {
		if _, err := Connect(context.Background(), s, nil); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("Connect(%+v) error = %v, want ErrNotConfigured", s, err)
		}
	}

	if _, err := Connect(context.Background(), Settings{Driver: "carrier-pigeon", URL: "x", Key: "y"}, nil); err == nil {
		t.Error("unknown driver accepted")
	}
}
