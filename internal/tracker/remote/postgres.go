package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the LISTEN channel fed by the change triggers.
const notifyChannel = "diffking_changes"

// tableColumns lists the columns of each table, matching the migrations.
var tableColumns = map[Table][]string{
	TableJobs: {
		"id", "category", "customer_name", "phone_number", "address",
		"invoice_number", "quote_number", "importance", "description", "date",
		"estimated_dispatch_date", "items", "status", "measurements", "attachments",
		"total_paid", "payment_history", "updated_at", "completed_at",
		"is_deleted", "deleted_at", "is_archived", "archived_at",
	},
	TableAudit: {"id", "job_id", "action", "timestamp", "summary", "client_id"},
	TableQueries: {
		"id", "customer_name", "phone_number", "description", "items", "date",
		"updated_at", "is_deleted", "deleted_at",
	},
	TableBookings: {
		"id", "customer_name", "phone_number", "car_make", "car_model", "car_other",
		"quote_number", "date", "time", "notes", "status",
		"updated_at", "is_deleted", "deleted_at",
	},
}

// pgPool is the part of *pgxpool.Pool the backend uses.
type pgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// notifyConn is a connection dedicated to LISTEN.
type notifyConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// PostgresBackend talks to the tracker tables directly over a pgx pool.
// Changes arrive through LISTEN/NOTIFY.
type PostgresBackend struct {
	pool   pgPool
	listen func(ctx context.Context) (notifyConn, error)
	logger *log.Logger

	mu       sync.Mutex
	listener *pgListener
	closed   bool
}

// NewPostgresBackend connects to dsn.
func NewPostgresBackend(ctx context.Context, dsn string, logger *log.Logger) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	// One connection is held by the listener.
	if cfg.MaxConns < 4 {
		cfg.MaxConns = 4
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	listen := func(ctx context.Context) (notifyConn, error) {
		return listenConn(ctx, pool)
	}
	return newPostgresBackend(pool, listen, logger), nil
}

func newPostgresBackend(pool pgPool, listen func(context.Context) (notifyConn, error), logger *log.Logger) *PostgresBackend {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &PostgresBackend{pool: pool, listen: listen, logger: logger}
}

func columnsFor(table Table) ([]string, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return cols, nil
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// selectStatement builds the query for SelectAll. Each row comes back as
// one jsonb value.
func selectStatement(table Table, opts SelectOptions) (string, []any, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return "", nil, err
	}

	query := fmt.Sprintf("SELECT to_jsonb(t) FROM %s t", pgx.Identifier{string(table)}.Sanitize())
	var args []any
	if opts.OrderBy != "" {
		if !slices.Contains(cols, opts.OrderBy) {
			return "", nil, fmt.Errorf("cannot order %s by %q", table, opts.OrderBy)
		}
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY t.%s %s NULLS LAST", pgx.Identifier{opts.OrderBy}.Sanitize(), dir)
	}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
	}
	return query, args, nil
}

// SelectAll implements Backend.
func (b *PostgresBackend) SelectAll(ctx context.Context, table Table, opts SelectOptions) ([]Row, error) {
	query, args, err := selectStatement(table, opts)
	if err != nil {
		return nil, err
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("failed to parse %s row: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return out, nil
}

// upsertStatement builds an insert of the jsonb array in $1 that updates
// every other column when conflictKey collides. jsonb_populate_recordset
// expands the rows server-side, so every column of the table is written.
func upsertStatement(table Table, conflictKey string) (string, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return "", err
	}
	if conflictKey == "" {
		conflictKey = "id"
	}
	if !slices.Contains(cols, conflictKey) {
		return "", fmt.Errorf("cannot upsert %s on %q", table, conflictKey)
	}

	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == conflictKey {
			continue
		}
		id := pgx.Identifier{c}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}

	tableID := pgx.Identifier{string(table)}.Sanitize()
	colList := quoteColumns(cols)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM jsonb_populate_recordset(NULL::%s, $1::jsonb) ON CONFLICT (%s) DO UPDATE SET %s",
		tableID, colList, colList, tableID,
		pgx.Identifier{conflictKey}.Sanitize(), strings.Join(updates, ", "),
	), nil
}

// Upsert implements Backend.
func (b *PostgresBackend) Upsert(ctx context.Context, table Table, rows any, conflictKey string) error {
	stmt, err := upsertStatement(table, conflictKey)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal %s rows: %w", table, err)
	}

	if _, err := b.pool.Exec(ctx, stmt, string(body)); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

// Subscribe implements Backend. Every subscription shares one listening
// connection.
func (b *PostgresBackend) Subscribe(ctx context.Context, table Table, events []EventType, fn func(Notification)) (Subscription, error) {
	if _, err := columnsFor(table); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrNotConnected
	}
	if b.listener == nil || b.listener.isDone() {
		conn, err := b.listen(ctx)
		if err != nil {
			return nil, err
		}
		b.listener = startListener(conn, b.logger)
	}
	return b.listener.add(table, events, fn), nil
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	l := b.listener
	b.listener = nil
	b.mu.Unlock()

	if l != nil {
		l.stop(ErrNotConnected)
	}
	b.pool.Close()
	return nil
}

type pgNotice struct {
	Table  Table     `json:"table"`
	Type   EventType `json:"type"`
	Record Row       `json:"record"`
}

// pgListener owns a connection taken out of the pool and fans its
// notifications out to feeds.
type pgListener struct {
	conn   notifyConn
	logger *log.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	feeds  map[int]*feed
	nextID int
	err    error
}

// listenConn takes a connection out of the pool for good and starts
// listening on it.
func listenConn(ctx context.Context, pool *pgxpool.Pool) (notifyConn, error) {
	pc, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	conn := pc.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return conn, nil
}

func startListener(conn notifyConn, logger *log.Logger) *pgListener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &pgListener{
		conn:   conn,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
		feeds:  make(map[int]*feed),
	}
	go l.run(ctx)
	return l
}

func (l *pgListener) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *pgListener) add(table Table, events []EventType, fn func(Notification)) *feed {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	f := newFeed(table, events, fn)
	f.leave = func() {
		l.mu.Lock()
		delete(l.feeds, id)
		l.mu.Unlock()
	}
	l.feeds[id] = f
	return f
}

func (l *pgListener) run(ctx context.Context) {
	for {
		n, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.stop(fmt.Errorf("postgres listener lost: %w", err))
			return
		}

		l.dispatch(n.Payload)
	}
}

// dispatch hands one trigger payload to the feeds for its table.
func (l *pgListener) dispatch(payload string) {
	var notice pgNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		l.logger.Printf("Ignoring malformed notification: %v", err)
		return
	}

	l.mu.Lock()
	targets := make([]*feed, 0, len(l.feeds))
	for _, f := range l.feeds {
		if f.table == notice.Table {
			targets = append(targets, f)
		}
	}
	l.mu.Unlock()

	for _, f := range targets {
		f.deliver(Notification{Table: notice.Table, Type: notice.Type, Record: notice.Record})
	}
}

// stop ends the listener and every feed with err.
func (l *pgListener) stop(err error) {
	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return
	}
	l.err = err
	feeds := l.feeds
	l.feeds = make(map[int]*feed)
	close(l.done)
	l.mu.Unlock()

	l.cancel()
	_ = l.conn.Close(context.Background())

	for _, f := range feeds {
		f.end(err)
	}
}
