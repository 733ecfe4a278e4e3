package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

type staticReader struct {
	data []byte
	err  error
}

func (r staticReader) ReadFast() ([]byte, error) { return r.data, r.err }
func (r staticReader) ReadDurable() ([]byte, error) { return r.data, r.err }

func TestLoad(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cached := []byte(`{"jobs":{"jobs":[{"id":"1","customerName":"cache"}],"audit":[]},"queries":{"queries":[]},"bookings":{"bookings":[]}}`)
	filed := []byte(`{"jobs":{"jobs":[{"id":"1","customerName":"file"}],"audit":[]}}`)

	tests := []struct {
		name         string
		fast         staticReader
		durable      staticReader
		wantSource   Source
		wantCustomer string
	}{
		{name: "cache wins", fast: staticReader{data: cached}, durable: staticReader{data: filed}, wantSource: SourceCache, wantCustomer: "cache"},
		{name: "missing cache", fast: staticReader{err: ErrNoSnapshot}, durable: staticReader{data: filed}, wantSource: SourceFile, wantCustomer: "file"},
		{name: "broken cache", fast: staticReader{err: errors.New("locked")}, durable: staticReader{data: filed}, wantSource: SourceFile, wantCustomer: "file"},
		{name: "corrupt cache", fast: staticReader{data: []byte("{")}, durable: staticReader{data: filed}, wantSource: SourceFile, wantCustomer: "file"},
		{name: "nothing saved", fast: staticReader{err: ErrNoSnapshot}, durable: staticReader{err: ErrNoSnapshot}, wantSource: SourceEmpty},
		{name: "corrupt file", fast: staticReader{err: ErrNoSnapshot}, durable: staticReader{data: []byte("not json")}, wantSource: SourceEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, source := Load(tt.fast, tt.durable, now, nil)
			if source != tt.wantSource {
				t.Errorf("source = %s, want %s", source, tt.wantSource)
			}
			if tt.wantCustomer == "" {
				if len(state.Jobs.Jobs) != 0 || state.Queries.Queries == nil || state.Bookings.Bookings == nil {
					t.Errorf("expected an allocated empty state, got %+v", state)
				}
				return
			}
			if got := state.Jobs.Jobs[0].CustomerName; got != tt.wantCustomer {
				t.Errorf("customer = %q, want %q", got, tt.wantCustomer)
			}
			if !state.Jobs.Jobs[0].UpdatedAt.Equal(now) {
				t.Errorf("loaded job not stamped: %v", state.Jobs.Jobs[0].UpdatedAt)
			}
			if state.Bookings.Bookings == nil {
				t.Error("missing collections must be allocated")
			}
		})
	}
}

func TestFileMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, DefaultFileName))

	if _, err := f.ReadDurable(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("missing file error = %v, want ErrNoSnapshot", err)
	}

	if err := os.WriteFile(f.Path(), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadDurable(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("empty file error = %v, want ErrNoSnapshot", err)
	}
}

func TestFileWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "nested", DefaultFileName))

	data, err := schema.Empty().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteDurable(data); err != nil {
		t.Fatalf("WriteDurable() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != DefaultFileName {
		t.Errorf("unexpected files left behind: %v", entries)
	}

	info, err := os.Stat(f.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}

	got, err := f.ReadDurable()
	if err != nil || string(got) != string(data) {
		t.Errorf("ReadDurable() = %s, %v", got, err)
	}
}
