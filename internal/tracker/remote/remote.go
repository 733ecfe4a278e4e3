// Package remote talks to the shared row store that stations sync through.
//
// A Backend moves raw rows: it selects whole tables, upserts rows by key and
// delivers change notifications. Client sits on top of a Backend and speaks
// in tracker records, translating between the camelCase local shape and the
// snake_case column names used remotely.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// Table names a remote table.
type Table string

const (
	TableJobs     Table = "jobs"
	TableAudit    Table = "job_audit"
	TableQueries  Table = "queries"
	TableBookings Table = "bookings"
)

// Tables lists every synced table.
var Tables = []Table{TableJobs, TableAudit, TableQueries, TableBookings}

// EventType filters change notifications.
type EventType string

const (
	EventAll    EventType = "*"
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// matches reports whether a subscription to want receives got.
func (want EventType) matches(got EventType) bool {
	return want == EventAll || strings.EqualFold(string(want), string(got))
}

// Row is one remote row keyed by column name.
type Row map[string]json.RawMessage

// SelectOptions orders and limits a SelectAll.
type SelectOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// Notification is a change delivered by a backend subscription. Record is
// set for inserts and updates when the backend carries row data.
type Notification struct {
	Table  Table
	Type   EventType
	Record Row
}

// Subscription is an open change feed.
type Subscription interface {
	// Done is closed when the feed stops delivering, for any reason.
	Done() <-chan struct{}
	// Err reports why the feed stopped, or nil after Unsubscribe.
	Err() error
	// Unsubscribe closes the feed. It is safe to call more than once.
	Unsubscribe()
}

// Backend is a remote row store.
type Backend interface {
	SelectAll(ctx context.Context, table Table, opts SelectOptions) ([]Row, error)
	Upsert(ctx context.Context, table Table, rows any, conflictKey string) error
	Subscribe(ctx context.Context, table Table, events []EventType, fn func(Notification)) (Subscription, error)
	Close() error
}

var (
	// ErrNotConfigured means sync is disabled, not failed.
	ErrNotConfigured = errors.New("remote sync is not configured")
	// ErrNotConnected is returned by a backend used after Close.
	ErrNotConnected = errors.New("remote backend is not connected")
)

// Drivers.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
)

// Settings selects and configures a backend.
type Settings struct {
	// Driver is "supabase" (default) or "postgres".
	Driver string
	// URL is the project URL for supabase, or the connection string for postgres.
	URL string
	// Key is the supabase API key. The postgres driver ignores it.
	Key string
}

// Configured reports whether s has enough to connect.
func (s Settings) Configured() bool {
	if strings.TrimSpace(s.URL) == "" {
		return false
	}
	if s.Driver == DriverPostgres {
		return true
	}
	return strings.TrimSpace(s.Key) != ""
}

// Connect opens the backend s selects. It returns ErrNotConfigured when s is
// missing its URL or key.
func Connect(ctx context.Context, s Settings, logger *log.Logger) (Backend, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	switch strings.ToLower(s.Driver) {
	case "", DriverSupabase:
		return NewSupabaseBackend(s.URL, s.Key, logger)
	case DriverPostgres:
		return NewPostgresBackend(ctx, s.URL, logger)
	default:
		return nil, fmt.Errorf("unknown remote driver %q", s.Driver)
	}
}

// DecodeError reports a remote row that could not be turned into a record.
type DecodeError struct {
	Table Table
	ID    string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	id := e.ID
	if id == "" {
		id = "?"
	}
	if e.Field == "" {
		return fmt.Sprintf("decode %s row %s: %v", e.Table, id, e.Err)
	}
	return fmt.Sprintf("decode %s row %s: field %s: %v", e.Table, id, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// rowsOf converts any JSON-marshalable slice into rows.
func rowsOf(v any) ([]Row, error) {
	if rows, ok := v.([]Row); ok {
		return rows, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("rows must be a JSON array of objects: %w", err)
	}
	return rows, nil
}
