package persist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

func testCachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cache", "tracker.db")
}

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(testCachePath(t))
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpenCacheCreatesTables(t *testing.T) {
	c := openTestCache(t)

	for _, table := range []string{"snapshots", "job_index"} {
		var name string
		err := c.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	var mode string
	if err := c.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestCacheSnapshotRoundTrip(t *testing.T) {
	c := openTestCache(t)

	if _, err := c.ReadFast(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("ReadFast() on empty cache error = %v, want ErrNoSnapshot", err)
	}

	if err := c.WriteFast([]byte(`{"v":1}`)); err != nil {
		t.Fatalf("WriteFast() error = %v", err)
	}
	if err := c.WriteFast([]byte(`{"v":2}`)); err != nil {
		t.Fatalf("WriteFast() error = %v", err)
	}

	got, err := c.ReadFast()
	if err != nil {
		t.Fatalf("ReadFast() error = %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("ReadFast() = %s, want latest snapshot", got)
	}

	if _, err := c.SnapshotTime(context.Background()); err != nil {
		t.Errorf("SnapshotTime() error = %v", err)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	path := testCachePath(t)

	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	if err := c.WriteFast([]byte(`{"jobs":{}}`)); err != nil {
		t.Fatalf("WriteFast() error = %v", err)
	}
	if err := c.SetMeta(context.Background(), MetaLastAuditID, "17-abc"); err != nil {
		t.Fatalf("SetMeta() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c, err = OpenCache(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer c.Close()

	got, ok, err := c.Meta(context.Background(), MetaLastAuditID)
	if err != nil || !ok || got != "17-abc" {
		t.Errorf("Meta() = %q, %v, %v; want 17-abc", got, ok, err)
	}
	if _, ok, _ := c.Meta(context.Background(), "missing"); ok {
		t.Errorf("Meta() reported a key that was never set")
	}
	if _, err := c.ReadFast(); err != nil {
		t.Errorf("snapshot lost across reopen: %v", err)
	}
}

func TestCacheListJobs(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	jobs := []schema.Job{
		{
			Record:       schema.Record{ID: "1", UpdatedAt: schema.NewStamp(base)},
			CustomerName: "Sam Harper",
			PhoneNumber:  "021 555 0101",
			Status:       schema.StatusInProgress,
			Items:        []schema.JobItem{{Price: 200}},
			TotalPaid:    50,
		},
		{
			Record:       schema.Record{ID: "2", UpdatedAt: schema.NewStamp(base.Add(time.Hour))},
			CustomerName: "Lee Wong",
			Status:       schema.StatusComplete,
			Items:        []schema.JobItem{{Price: 80}},
			TotalPaid:    80,
			CompletedAt:  schema.NewStamp(base.Add(time.Hour)),
		},
		{
			Record:       schema.Record{ID: "3", UpdatedAt: schema.NewStamp(base), IsDeleted: true, DeletedAt: schema.NewStamp(base)},
			CustomerName: "Ana Silva",
			Status:       schema.StatusNotStarted,
		},
	}
	if err := c.IndexJobs(ctx, jobs); err != nil {
		t.Fatalf("IndexJobs() error = %v", err)
	}

	ids := func(rows []JobSummary) []string {
		var out []string
		for _, r := range rows {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter JobFilter
		want   []string
	}{
		{name: "live jobs newest first", filter: JobFilter{}, want: []string{"2", "1"}},
		{name: "include deleted", filter: JobFilter{IncludeDeleted: true}, want: []string{"2", "1", "3"}},
		{name: "by status", filter: JobFilter{Status: schema.StatusComplete}, want: []string{"2"}},
		{name: "unpaid", filter: JobFilter{Unpaid: true}, want: []string{"1"}},
		{name: "search name", filter: JobFilter{Search: "harper"}, want: []string{"1"}},
		{name: "search phone", filter: JobFilter{Search: "555"}, want: []string{"1"}},
		{name: "limit", filter: JobFilter{Limit: 1}, want: []string{"2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := c.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(rows)); diff != "" {
				t.Errorf("ListJobs() ids (-want +got):\n%s", diff)
			}
		})
	}

	// Re-indexing replaces rather than accumulates.
	if err := c.IndexJobs(ctx, jobs[:1]); err != nil {
		t.Fatalf("IndexJobs() error = %v", err)
	}
	rows, err := c.ListJobs(ctx, JobFilter{IncludeDeleted: true, IncludeArchived: true})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Total != 200 || rows[0].Paid != 50 {
		t.Errorf("after re-index got %+v", rows)
	}
}
