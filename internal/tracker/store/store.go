package store

import (
	"sync"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// Change is delivered to listeners after every dispatch.
type Change struct {
	Action   Action
	Previous schema.State
	State    schema.State
}

// Listener observes state changes. Listeners run synchronously on the
// dispatching goroutine, in dispatch order, and must not dispatch.
type Listener func(Change)

// Store owns the entity collections and serializes every mutation.
type Store struct {
	// dispatchMu serializes reduce and notify so listeners see changes in order.
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	state     schema.State
	listeners map[int]Listener
	nextID    int

	clientID   string
	ids        schema.IDStrategy
	now        func() time.Time
	newAuditID func(time.Time) string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for stamping mutations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithClientID tags every audit entry this store authors.
func WithClientID(id string) Option {
	return func(s *Store) { s.clientID = id }
}

// WithIDStrategy selects how NextJobID and friends allocate ids.
func WithIDStrategy(strategy schema.IDStrategy) Option {
	return func(s *Store) { s.ids = strategy }
}

// WithAuditIDs replaces the audit id generator.
func WithAuditIDs(fn func(time.Time) string) Option {
	return func(s *Store) { s.newAuditID = fn }
}

// New creates a store holding initial.
func New(initial schema.State, opts ...Option) *Store {
	s := &Store{
		state:      initial,
		listeners:  make(map[int]Listener),
		ids:        schema.IDSequential,
		now:        time.Now,
		newAuditID: schema.NewAuditID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state. The returned value must be treated as
// read-only; it is shared with other readers.
func (s *Store) State() schema.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ClientID returns the id stamped on locally authored audit entries.
func (s *Store) ClientID() string {
	return s.clientID
}

// Dispatch applies a to the state and notifies listeners.
func (s *Store) Dispatch(a Action) {
	s.Apply(func(schema.State) Action { return a })
}

// Apply builds an action from the current state and dispatches it without
// letting any other dispatch interleave. A nil action is a no-op and notifies
// nobody. Apply returns the action that was dispatched.
func (s *Store) Apply(build func(schema.State) Action) Action {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	prev := s.State()
	a := build(prev)
	if a == nil {
		return nil
	}

	next := Reduce(prev, a, Env{
		Now:        s.now(),
		ClientID:   s.clientID,
		NewAuditID: s.newAuditID,
	})

	s.mu.Lock()
	s.state = next
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	telemetry.Dispatches.WithLabelValues(string(a.Type())).Inc()

	change := Change{Action: a, Previous: prev, State: next}
	for _, l := range listeners {
		l(change)
	}
	return a
}

// Subscribe registers l and returns a function that removes it. Listeners
// are called in subscription order.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// NextJobID allocates an id for a new job.
func (s *Store) NextJobID() string {
	return schema.NextID(s.ids, schema.JobIDs(s.State().Jobs.Jobs))
}

// NextQueryID allocates an id for a new query.
func (s *Store) NextQueryID() string {
	return schema.NextID(s.ids, schema.QueryIDs(s.State().Queries.Queries))
}

// NextBookingID allocates an id for a new booking.
func (s *Store) NextBookingID() string {
	return schema.NextID(s.ids, schema.BookingIDs(s.State().Bookings.Bookings))
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}
