package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend is an in-process Backend. Notifications are delivered
// synchronously on the upserting goroutine, after the write is visible.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[Table]*memTable
	subs   map[int]*feed
	nextID int
	err    error
	closed bool
}

type memTable struct {
	order []string
	rows  map[string]Row
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tables: make(map[Table]*memTable),
		subs:   make(map[int]*feed),
	}
}

// FailWith makes every subsequent call return err until it is called with nil.
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Len returns the number of rows in table.
func (m *MemoryBackend) Len(table Table) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[table]; ok {
		return len(t.order)
	}
	return 0
}

// DropSubscriptions ends every open subscription with err, as a lost
// connection would.
func (m *MemoryBackend) DropSubscriptions(err error) {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[int]*feed)
	m.mu.Unlock()

	for _, s := range subs {
		s.end(err)
	}
}

func (m *MemoryBackend) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrNotConnected
	}
	return m.err
}

// SelectAll implements Backend.
func (m *MemoryBackend) SelectAll(ctx context.Context, table Table, opts SelectOptions) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	t, ok := m.tables[table]
	if !ok {
		return []Row{}, nil
	}
	rows := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		rows = append(rows, cloneRow(t.rows[id]))
	}

	if opts.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			c := compareRaw(rows[i][opts.OrderBy], rows[j][opts.OrderBy])
			if opts.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}

// Upsert implements Backend. Rows replace existing rows with the same
// conflict key; new rows are appended.
func (m *MemoryBackend) Upsert(ctx context.Context, table Table, rows any, conflictKey string) error {
	in, err := rowsOf(rows)
	if err != nil {
		return err
	}
	if conflictKey == "" {
		conflictKey = "id"
	}

	m.mu.Lock()
	if err := m.check(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	t, ok := m.tables[table]
	if !ok {
		t = &memTable{rows: make(map[string]Row)}
		m.tables[table] = t
	}

	var notes []Notification
	for _, row := range in {
		var key string
		if err := json.Unmarshal(row[conflictKey], &key); err != nil || key == "" {
			m.mu.Unlock()
			return fmt.Errorf("row in %s has no %s", table, conflictKey)
		}
		typ := EventUpdate
		if _, exists := t.rows[key]; !exists {
			typ = EventInsert
			t.order = append(t.order, key)
		}
		t.rows[key] = cloneRow(row)
		notes = append(notes, Notification{Table: table, Type: typ, Record: cloneRow(row)})
	}
	subs := m.subscribersLocked(table)
	m.mu.Unlock()

	for _, n := range notes {
		for _, s := range subs {
			s.deliver(n)
		}
	}
	return nil
}

func (m *MemoryBackend) subscribersLocked(table Table) []*feed {
	ids := make([]int, 0, len(m.subs))
	for id, s := range m.subs {
		if s.table == table {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]*feed, len(ids))
	for i, id := range ids {
		out[i] = m.subs[id]
	}
	return out
}

// Subscribe implements Backend.
func (m *MemoryBackend) Subscribe(ctx context.Context, table Table, events []EventType, fn func(Notification)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	id := m.nextID
	m.nextID++
	s := newFeed(table, events, fn)
	s.leave = func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	m.subs[id] = s
	return s, nil
}

// Close implements Backend. Open subscriptions end with ErrNotConnected.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.DropSubscriptions(ErrNotConnected)
	return nil
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// compareRaw orders JSON scalars: numbers numerically, everything else by
// its encoded text, with missing values first.
func compareRaw(a, b json.RawMessage) int {
	var fa, fb float64
	if json.Unmarshal(a, &fa) == nil && json.Unmarshal(b, &fb) == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return bytes.Compare(a, b)
}
