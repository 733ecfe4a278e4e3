package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// AuditFetchLimit caps how many audit entries a fetch returns, newest first.
const AuditFetchLimit = 200

// Snapshot holds the remote collections. A nil slice means the table could
// not be fetched; an empty table is an empty, non-nil slice.
type Snapshot struct {
	Jobs     []schema.Job
	Audit    []schema.AuditEntry
	Queries  []schema.Query
	Bookings []schema.Booking
}

// Event is a remote change relevant to this station. Audit is set only for
// audit inserts; other tables carry just the table name and are expected to
// be refetched.
type Event struct {
	Table Table
	Audit *schema.AuditEntry
}

// Client reads and writes tracker records through a Backend.
type Client struct {
	backend  Backend
	clientID string
	logger   *log.Logger
}

// NewClient creates a client. clientID marks audit entries authored by this
// station.
func NewClient(backend Backend, clientID string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{backend: backend, clientID: clientID, logger: logger}
}

// ClientID returns the station id the client stamps on audit entries.
func (c *Client) ClientID() string {
	return c.clientID
}

// Backend returns the underlying backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// Close closes the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

func fetch[T any](ctx context.Context, c *Client, table Table, opts SelectOptions, decode func(Row) (T, error)) ([]T, error) {
	rows, err := c.backend.SelectAll(ctx, table, opts)
	if err != nil {
		telemetry.Pulls.WithLabelValues(string(table), "error").Inc()
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	telemetry.Pulls.WithLabelValues(string(table), "ok").Inc()

	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := decode(row)
		if err != nil {
			telemetry.DecodeErrors.WithLabelValues(string(table)).Inc()
			c.logger.Printf("Skipping row: %v", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// FetchJobs returns every remote job.
func (c *Client) FetchJobs(ctx context.Context) ([]schema.Job, error) {
	return fetch(ctx, c, TableJobs, SelectOptions{}, DecodeJob)
}

// FetchAudit returns the newest AuditFetchLimit audit entries, newest first.
func (c *Client) FetchAudit(ctx context.Context) ([]schema.AuditEntry, error) {
	opts := SelectOptions{OrderBy: "timestamp", Descending: true, Limit: AuditFetchLimit}
	return fetch(ctx, c, TableAudit, opts, DecodeAudit)
}

// FetchQueries returns every remote query.
func (c *Client) FetchQueries(ctx context.Context) ([]schema.Query, error) {
	return fetch(ctx, c, TableQueries, SelectOptions{}, DecodeQuery)
}

// FetchBookings returns every remote booking.
func (c *Client) FetchBookings(ctx context.Context) ([]schema.Booking, error) {
	return fetch(ctx, c, TableBookings, SelectOptions{}, DecodeBooking)
}

// FetchAll fetches the four tables. Tables that fail are left nil in the
// snapshot and their errors are joined.
func (c *Client) FetchAll(ctx context.Context) (Snapshot, error) {
	var (
		snap Snapshot
		errs []error
		err  error
	)
	if snap.Jobs, err = c.FetchJobs(ctx); err != nil {
		errs = append(errs, err)
	}
	if snap.Audit, err = c.FetchAudit(ctx); err != nil {
		errs = append(errs, err)
	}
	if snap.Queries, err = c.FetchQueries(ctx); err != nil {
		errs = append(errs, err)
	}
	if snap.Bookings, err = c.FetchBookings(ctx); err != nil {
		errs = append(errs, err)
	}
	return snap, errors.Join(errs...)
}

// PendingAudit returns the entries newer than sinceID that this station
// should push: everything before sinceID in the newest-first log, or the
// whole log when sinceID is not found, keeping only entries authored here or
// by no one.
func PendingAudit(audit []schema.AuditEntry, sinceID, clientID string) []schema.AuditEntry {
	fresh := audit
	if sinceID != "" {
		for i, e := range audit {
			if e.ID == sinceID {
				fresh = audit[:i]
				break
			}
		}
	}

	var pending []schema.AuditEntry
	for _, e := range fresh {
		if e.ClientID == "" || e.ClientID == clientID {
			pending = append(pending, e)
		}
	}
	return pending
}

// Push upserts the local collections and the pending audit entries. It
// returns the new watermark: the id of the newest local audit entry, or
// sinceAuditID when the log is empty. On error the old watermark is
// returned.
func (c *Client) Push(ctx context.Context, state schema.State, sinceAuditID string) (string, error) {
	if err := c.push(ctx, state, sinceAuditID); err != nil {
		telemetry.Pushes.WithLabelValues("error").Inc()
		return sinceAuditID, err
	}
	telemetry.Pushes.WithLabelValues("ok").Inc()

	if len(state.Jobs.Audit) == 0 {
		return sinceAuditID, nil
	}
	return state.Jobs.Audit[0].ID, nil
}

func (c *Client) push(ctx context.Context, state schema.State, sinceAuditID string) error {
	if jobs := state.Jobs.Jobs; len(jobs) > 0 {
		if err := c.backend.Upsert(ctx, TableJobs, encodeAll(jobs, encodeJob), "id"); err != nil {
			return fmt.Errorf("failed to push jobs: %w", err)
		}
	}
	if queries := state.Queries.Queries; len(queries) > 0 {
		if err := c.backend.Upsert(ctx, TableQueries, encodeAll(queries, encodeQuery), "id"); err != nil {
			return fmt.Errorf("failed to push queries: %w", err)
		}
	}
	if bookings := state.Bookings.Bookings; len(bookings) > 0 {
		if err := c.backend.Upsert(ctx, TableBookings, encodeAll(bookings, encodeBooking), "id"); err != nil {
			return fmt.Errorf("failed to push bookings: %w", err)
		}
	}

	pending := PendingAudit(state.Jobs.Audit, sinceAuditID, c.clientID)
	if len(pending) == 0 {
		return nil
	}
	rows := encodeAll(pending, func(e schema.AuditEntry) auditRow { return encodeAudit(e, c.clientID) })
	if err := c.backend.Upsert(ctx, TableAudit, rows, "id"); err != nil {
		return fmt.Errorf("failed to push audit: %w", err)
	}
	return nil
}

// Subscribe opens one change feed per table and forwards events to fn.
// Audit inserts authored by this station are dropped. The returned
// subscription ends when any of the feeds ends.
func (c *Client) Subscribe(ctx context.Context, fn func(Event)) (Subscription, error) {
	group := newSubscriptionGroup()

	for _, table := range Tables {
		events := []EventType{EventAll}
		handler := func(Notification) {
			telemetry.RemoteEvents.WithLabelValues(string(table)).Inc()
			fn(Event{Table: table})
		}
		if table == TableAudit {
			events = []EventType{EventInsert}
			handler = func(n Notification) {
				telemetry.RemoteEvents.WithLabelValues(string(table)).Inc()
				entry, err := DecodeAudit(n.Record)
				if err != nil {
					telemetry.DecodeErrors.WithLabelValues(string(table)).Inc()
					c.logger.Printf("Skipping audit event: %v", err)
					return
				}
				if entry.ClientID != "" && entry.ClientID == c.clientID {
					return
				}
				fn(Event{Table: table, Audit: &entry})
			}
		}

		sub, err := c.backend.Subscribe(ctx, table, events, handler)
		if err != nil {
			group.Unsubscribe()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", table, err)
		}
		group.add(sub)
	}
	return group, nil
}

// subscriptionGroup ends when its first member ends.
type subscriptionGroup struct {
	mu     sync.Mutex
	subs   []Subscription
	done   chan struct{}
	err    error
	closed bool
}

func newSubscriptionGroup() *subscriptionGroup {
	return &subscriptionGroup{done: make(chan struct{})}
}

func (g *subscriptionGroup) add(sub Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()

	go func() {
		select {
		case <-sub.Done():
			g.finish(sub.Err())
		case <-g.done:
		}
	}()
}

func (g *subscriptionGroup) finish(err error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.err = err
	subs := g.subs
	close(g.done)
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (g *subscriptionGroup) Done() <-chan struct{} {
	return g.done
}

func (g *subscriptionGroup) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *subscriptionGroup) Unsubscribe() {
	g.finish(nil)
}
