package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/reconcile"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// testClock is a settable clock for stamping mutations.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestStore(t *testing.T, initial schema.State) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	seq := 0
	s := New(initial,
		WithClock(clock.Now),
		WithClientID("station-a"),
		WithAuditIDs(func(now time.Time) string {
			seq++
			return fmt.Sprintf("%d-%d", now.UnixMilli(), seq)
		}),
	)
	return s, clock
}

func sampleJob(id string) schema.Job {
	return schema.Job{
		Record:       schema.Record{ID: id},
		Category:     schema.CategoryRepair,
		CustomerName: "Sam",
		PhoneNumber:  "0400 000 000",
		Description:  "Rebuild diff",
		Date:         "2026-03-01",
		Items:        []schema.JobItem{{Description: "bearing kit", Price: 100}, {Description: "labour", Price: 50}},
		Status:       schema.StatusNotStarted,
	}
}

func TestAddJobPrependsAndAudits(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())

	s.Dispatch(AddJob{Job: sampleJob("0")})
	s.Dispatch(AddJob{Job: sampleJob("1")})

	state := s.State()
	if len(state.Jobs.Jobs) != 2 || state.Jobs.Jobs[0].ID != "1" {
		t.Fatalf("expected newest job first, got %+v", schema.JobIDs(state.Jobs.Jobs))
	}
	if !state.Jobs.Jobs[0].UpdatedAt.Equal(clock.Now()) {
		t.Errorf("updatedAt not stamped: %v", state.Jobs.Jobs[0].UpdatedAt)
	}
	if len(state.Jobs.Audit) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(state.Jobs.Audit))
	}
	entry := state.Jobs.Audit[0]
	if entry.Action != schema.AuditJobCreated || entry.JobID != "1" || entry.Summary != "Job 1 created for Sam." {
		t.Errorf("unexpected audit entry %+v", entry)
	}
	if entry.ClientID != "station-a" {
		t.Errorf("audit entry not tagged with client id: %+v", entry)
	}
}

func TestAddDuplicateIDIsNoop(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("0")})
	before := s.State()

	s.Dispatch(AddJob{Job: sampleJob("0")})

	if diff := cmp.Diff(before, s.State()); diff != "" {
		t.Errorf("duplicate add changed state (-want +got):\n%s", diff)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("7")})

	clock.Set(clock.Now().Add(time.Hour))
	s.Dispatch(UpdateJobStatus{ID: "7", Status: schema.StatusComplete})

	job, _ := s.State().FindJob("7")
	if job.Status != schema.StatusComplete {
		t.Fatalf("status = %q", job.Status)
	}
	if !job.CompletedAt.Equal(clock.Now()) || !job.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("completedAt/updatedAt not stamped: %+v", job)
	}
	if got := s.State().Jobs.Audit[0].Summary; got != "Job 7 status set to complete." {
		t.Errorf("audit summary = %q", got)
	}

	clock.Set(clock.Now().Add(time.Hour))
	s.Dispatch(UpdateJobStatus{ID: "7", Status: schema.StatusInProgress})

	job, _ = s.State().FindJob("7")
	if !job.CompletedAt.IsZero() {
		t.Errorf("leaving complete should clear completedAt, got %v", job.CompletedAt)
	}
}

func TestUpdateJobKeepsControlFields(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("2")})
	s.Dispatch(DeleteJob{ID: "2"})

	clock.Set(clock.Now().Add(time.Minute))
	edit := sampleJob("2")
	edit.Description = "Rebuild diff and replace axle"
	s.Dispatch(UpdateJob{Job: edit})

	job, _ := s.State().FindJob("2")
	if job.Description != edit.Description {
		t.Errorf("description not updated: %q", job.Description)
	}
	if !job.IsDeleted {
		t.Error("update must not clear the delete flag")
	}
	if !job.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("updatedAt = %v, want %v", job.UpdatedAt, clock.Now())
	}
}

func TestDeleteNeverRemoves(t *testing.T) {
	tests := []struct {
		name   string
		seed   func(*Store)
		action Action
		length func(schema.State) int
		find   func(schema.State) schema.Record
	}{
		{
			name:   "job",
			seed:   func(s *Store) { s.Dispatch(AddJob{Job: sampleJob("9")}) },
			action: DeleteJob{ID: "9"},
			length: func(st schema.State) int { return len(st.Jobs.Jobs) },
			find: func(st schema.State) schema.Record {
				j, _ := st.FindJob("9")
				return j.Record
			},
		},
		{
			name: "query",
			seed: func(s *Store) {
				s.Dispatch(AddQuery{Query: schema.Query{Record: schema.Record{ID: "9"}, CustomerName: "Lee", PhoneNumber: "0411"}})
			},
			action: DeleteQuery{ID: "9"},
			length: func(st schema.State) int { return len(st.Queries.Queries) },
			find: func(st schema.State) schema.Record {
				q, _ := st.FindQuery("9")
				return q.Record
			},
		},
		{
			name: "booking",
			seed: func(s *Store) {
				s.Dispatch(AddBooking{Booking: schema.Booking{Record: schema.Record{ID: "9"}, CustomerName: "Lee", Date: "2026-03-02"}})
			},
			action: DeleteBooking{ID: "9"},
			length: func(st schema.State) int { return len(st.Bookings.Bookings) },
			find: func(st schema.State) schema.Record {
				b, _ := st.FindBooking("9")
				return b.Record
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestStore(t, schema.Empty())
			tt.seed(s)
			before := tt.length(s.State())

			clock.Set(clock.Now().Add(time.Second))
			s.Dispatch(tt.action)

			after := s.State()
			if tt.length(after) != before {
				t.Errorf("collection length changed from %d to %d", before, tt.length(after))
			}
			rec := tt.find(after)
			if !rec.IsDeleted || !rec.DeletedAt.Equal(clock.Now()) || !rec.UpdatedAt.Equal(clock.Now()) {
				t.Errorf("record not soft-deleted at %v: %+v", clock.Now(), rec)
			}
		})
	}
}

func TestDeleteThenRestore(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("9")})

	clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	s.Dispatch(DeleteJob{ID: "9"})

	t1 := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	clock.Set(t1)
	s.Dispatch(RestoreJob{ID: "9"})

	job, _ := s.State().FindJob("9")
	if job.IsDeleted || !job.DeletedAt.IsZero() {
		t.Errorf("delete flags not cleared: %+v", job.Record)
	}
	if !job.UpdatedAt.Equal(t1) {
		t.Errorf("updatedAt = %v, want %v", job.UpdatedAt, t1)
	}
	if got := s.State().Jobs.Audit[0].Action; got != schema.AuditJobRestored {
		t.Errorf("last audit action = %s", got)
	}
}

func TestRestoreRefreshesCompletedAt(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("4")})
	s.Dispatch(UpdateJobStatus{ID: "4", Status: schema.StatusComplete})
	s.Dispatch(ArchiveJobs{IDs: []string{"4"}})

	later := clock.Now().Add(72 * time.Hour)
	clock.Set(later)
	s.Dispatch(RestoreJob{ID: "4"})

	job, _ := s.State().FindJob("4")
	if job.IsArchived || !job.ArchivedAt.IsZero() {
		t.Errorf("archive flags not cleared: %+v", job)
	}
	if !job.CompletedAt.Equal(later) {
		t.Errorf("completedAt = %v, want refreshed to %v", job.CompletedAt, later)
	}
	if job.Status != schema.StatusComplete {
		t.Errorf("restore must not change status, got %q", job.Status)
	}
}

func TestSetJobsImport(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())

	imported := []schema.Job{sampleJob("0"), sampleJob("1"), sampleJob("2")}
	s.Dispatch(SetJobs{Jobs: imported})

	state := s.State()
	if len(state.Jobs.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(state.Jobs.Jobs))
	}
	for _, j := range state.Jobs.Jobs {
		if !j.UpdatedAt.Equal(clock.Now()) {
			t.Errorf("job %s updatedAt = %v, want import time", j.ID, j.UpdatedAt)
		}
		if j.IsArchived {
			t.Errorf("job %s should default to unarchived", j.ID)
		}
	}
	if len(state.Jobs.Audit) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(state.Jobs.Audit))
	}
	if got := state.Jobs.Audit[0].Summary; got != "Imported 3 jobs." {
		t.Errorf("audit summary = %q", got)
	}
}

func TestReplaceDoesNotStampOrAudit(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())

	old := schema.ParseStamp("2025-12-01T00:00:00.000Z")
	remote := sampleJob("5")
	remote.UpdatedAt = old
	s.Dispatch(ReplaceJobs{Jobs: []schema.Job{remote}})

	state := s.State()
	if len(state.Jobs.Audit) != 0 {
		t.Errorf("replace appended audit entries: %+v", state.Jobs.Audit)
	}
	if !state.Jobs.Jobs[0].UpdatedAt.Equal(old.Time) {
		t.Errorf("replace re-stamped updatedAt: %v", state.Jobs.Jobs[0].UpdatedAt)
	}

	for _, a := range []Action{ReplaceJobs{}, ReplaceAudit{}, ReplaceQueries{}, ReplaceBookings{}} {
		if !IsReplace(a) {
			t.Errorf("IsReplace(%s) = false", a.Type())
		}
	}
	for _, a := range []Action{SetJobs{}, AddJob{}, ArchiveJobs{}, SetAudit{}} {
		if IsReplace(a) {
			t.Errorf("IsReplace(%s) = true", a.Type())
		}
	}
}

func TestArchiveJobs(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("0")})
	s.Dispatch(AddJob{Job: sampleJob("1")})
	stamped, _ := s.State().FindJob("0")

	clock.Set(clock.Now().Add(time.Hour))
	s.Dispatch(ArchiveJobs{IDs: []string{"0", "missing"}})

	job, _ := s.State().FindJob("0")
	if !job.IsArchived || !job.ArchivedAt.Equal(clock.Now()) {
		t.Errorf("job not archived: %+v", job)
	}
	if !job.UpdatedAt.Equal(clock.Now()) || !job.UpdatedAt.After(stamped.UpdatedAt.Time) {
		t.Errorf("archive should re-stamp updatedAt: got %s, was %s", job.UpdatedAt, stamped.UpdatedAt)
	}
	merged := reconcile.MergeEntities(s.State().Jobs.Jobs, []schema.Job{stamped})
	if len(merged) != 1 || !merged[0].IsArchived {
		t.Errorf("pre-archive remote copy undid the archive: %+v", merged)
	}
	if got := s.State().Jobs.Audit[0].Summary; got != "Archived 1 jobs after retention window." {
		t.Errorf("audit summary = %q", got)
	}

	auditLen := len(s.State().Jobs.Audit)
	s.Dispatch(ArchiveJobs{IDs: []string{"0"}})
	if len(s.State().Jobs.Audit) != auditLen {
		t.Error("archiving an archived job should not audit")
	}
}

func TestRecordPayment(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("3")})

	s.Dispatch(RecordPayment{ID: "3", Amount: 100, Date: "2026-03-01"})
	s.Dispatch(RecordPayment{ID: "3", Amount: 50})
	s.Dispatch(RecordPayment{ID: "3", Amount: -5})

	job, _ := s.State().FindJob("3")
	if job.TotalPaid != 150 || len(job.PaymentHistory) != 2 {
		t.Fatalf("unexpected payments: total=%v history=%+v", job.TotalPaid, job.PaymentHistory)
	}
	if !job.IsFullyPaid() {
		t.Error("job should be fully paid")
	}
	if job.PaymentHistory[1].Date != "2026-03-01" {
		t.Errorf("default payment date = %q", job.PaymentHistory[1].Date)
	}
}

func TestUnknownIDIsNoop(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("1")})
	before := s.State()

	for _, a := range []Action{
		UpdateJob{Job: sampleJob("nope")},
		UpdateJobStatus{ID: "nope", Status: schema.StatusComplete},
		DeleteJob{ID: "nope"},
		RestoreJob{ID: "nope"},
		RecordPayment{ID: "nope", Amount: 10},
		DeleteQuery{ID: "nope"},
		DeleteBooking{ID: "nope"},
	} {
		s.Dispatch(a)
	}

	if diff := cmp.Diff(before, s.State()); diff != "" {
		t.Errorf("unknown ids changed state (-want +got):\n%s", diff)
	}
}

func TestAddBookingDefaultsConfirmed(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())
	s.Dispatch(AddBooking{Booking: schema.Booking{Record: schema.Record{ID: "0"}, CustomerName: "Lee", Date: "2026-03-04"}})

	b, _ := s.State().FindBooking("0")
	if b.Status != schema.BookingConfirmed {
		t.Errorf("status = %q, want confirmed", b.Status)
	}
	if len(s.State().Jobs.Audit) != 0 {
		t.Error("bookings must not write job audit entries")
	}
}

func TestReducersDoNotMutateSnapshots(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())
	s.Dispatch(AddJob{Job: sampleJob("1")})
	snapshot := s.State()
	firstJob := snapshot.Jobs.Jobs[0]

	s.Dispatch(UpdateJobStatus{ID: "1", Status: schema.StatusComplete})
	s.Dispatch(RecordPayment{ID: "1", Amount: 10})
	s.Dispatch(DeleteJob{ID: "1"})

	if diff := cmp.Diff(firstJob, snapshot.Jobs.Jobs[0]); diff != "" {
		t.Errorf("earlier snapshot was mutated (-want +got):\n%s", diff)
	}
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())

	var got []string
	unsubA := s.Subscribe(func(c Change) { got = append(got, "a:"+string(c.Action.Type())) })
	s.Subscribe(func(c Change) { got = append(got, "b:"+string(c.Action.Type())) })

	s.Dispatch(AddJob{Job: sampleJob("1")})
	unsubA()
	s.Dispatch(DeleteJob{ID: "1"})

	want := []string{"a:ADD_JOB", "b:ADD_JOB", "b:DELETE_JOB"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("listener calls (-want +got):\n%s", diff)
	}
}

func TestApplyIsAtomic(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Apply(func(st schema.State) Action {
				return AddJob{Job: sampleJob(schema.NextID(schema.IDSequential, schema.JobIDs(st.Jobs.Jobs)))}
			})
		}()
	}
	wg.Wait()

	if n := len(s.State().Jobs.Jobs); n != 50 {
		t.Errorf("expected 50 distinct jobs, got %d", n)
	}
}

func TestApplyNilActionIsSilent(t *testing.T) {
	s, _ := newTestStore(t, schema.Empty())
	called := false
	s.Subscribe(func(Change) { called = true })

	if a := s.Apply(func(schema.State) Action { return nil }); a != nil {
		t.Errorf("Apply returned %v", a)
	}
	if called {
		t.Error("listener called for nil action")
	}
}

func TestConvertQuery(t *testing.T) {
	s, clock := newTestStore(t, schema.Empty())
	s.Dispatch(AddQuery{Query: schema.Query{
		Record:       schema.Record{ID: "0"},
		CustomerName: "Lee",
		PhoneNumber:  "0411",
		Description:  "Tow bar quote",
		Items:        []schema.QueryItem{{Description: "tow bar"}},
	}})

	job, err := ConvertQuery(s.State(), "0", s.NextJobID(), schema.CategoryFabrication, clock.Now())
	if err != nil {
		t.Fatalf("ConvertQuery: %v", err)
	}
	if job.ID != "0" || job.Category != schema.CategoryFabrication || job.Importance != schema.ImportanceMedium {
		t.Errorf("unexpected job %+v", job)
	}
	if len(job.Items) != 1 || job.Items[0].Price != 0 || job.Items[0].Description != "tow bar" {
		t.Errorf("items not carried over unpriced: %+v", job.Items)
	}

	s.Dispatch(AddJob{Job: job})
	s.Dispatch(DeleteQuery{ID: "0"})

	if _, err := ConvertQuery(s.State(), "0", "1", schema.CategoryRepair, clock.Now()); err == nil {
		t.Error("converting a deleted query should fail")
	}
	if _, err := ConvertQuery(s.State(), "42", "1", schema.CategoryRepair, clock.Now()); err == nil {
		t.Error("converting a missing query should fail")
	}
}
