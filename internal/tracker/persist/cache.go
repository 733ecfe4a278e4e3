package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// ErrNoSnapshot is returned when a sink holds no saved state.
var ErrNoSnapshot = errors.New("no saved state")

// Well-known metadata keys.
const (
	snapshotKey = "state"

	// MetaLastAuditID holds the id of the newest audit entry pushed to the remote.
	MetaLastAuditID = "sync.last_audit_id"
	// MetaLastPushAt holds the RFC 3339 time of the last successful push.
	MetaLastPushAt = "sync.last_push_at"
	// MetaLastSyncStatus holds the last sync status as JSON.
	MetaLastSyncStatus = "sync.status"
)

// Cache is the fast local sink: a SQLite database holding the latest state
// snapshot, small metadata values, and a queryable index of jobs.
//
// The database runs in WAL mode so the CLI can read while a daemon writes.
type Cache struct {
	conn *sql.DB
	path string
}

// OpenCache opens or creates the cache database at path and initializes its
// schema.
//
// The caller MUST call Close() when done.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	c := &Cache{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := c.InitSchemaContext(context.Background()); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the database file location.
func (c *Cache) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the connection.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return c.conn.Close()
}

// InitSchemaContext creates the cache tables if they do not exist.
func (c *Cache) InitSchemaContext(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_index (
			id TEXT PRIMARY KEY,
			customer_name TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			importance TEXT NOT NULL DEFAULT '',
			total REAL NOT NULL DEFAULT 0,
			paid REAL NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			is_archived INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_index_status ON job_index(status, is_deleted, is_archived)`,
		`CREATE INDEX IF NOT EXISTS idx_job_index_updated ON job_index(updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize cache schema: %w", err)
		}
	}
	return nil
}

// WriteFast stores the serialized state, replacing the previous snapshot.
func (c *Cache) WriteFast(data []byte) error {
	return c.WriteFastContext(context.Background(), data)
}

// WriteFastContext is WriteFast with a context.
func (c *Cache) WriteFastContext(ctx context.Context, data []byte) error {
	if err := c.putContext(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("failed to write state snapshot: %w", err)
	}
	return nil
}

// ReadFast returns the saved snapshot, or ErrNoSnapshot.
func (c *Cache) ReadFast() ([]byte, error) {
	data, ok, err := c.getContext(context.Background(), snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read state snapshot: %w", err)
	}
	if !ok {
		return nil, ErrNoSnapshot
	}
	return data, nil
}

// SetMeta stores a metadata value.
func (c *Cache) SetMeta(ctx context.Context, key, value string) error {
	if err := c.putContext(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Meta returns a metadata value and whether it was set.
func (c *Cache) Meta(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := c.getContext(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return string(data), ok, nil
}

// SnapshotTime returns when the snapshot was last written.
func (c *Cache) SnapshotTime(ctx context.Context) (time.Time, error) {
	var updated string
	err := c.conn.QueryRowContext(ctx, `SELECT updated_at FROM snapshots WHERE key = ?`, snapshotKey).Scan(&updated)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read snapshot time: %w", err)
	}
	return schema.ParseStamp(updated).Time, nil
}

func (c *Cache) putContext(ctx context.Context, key string, value []byte) error {
	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO snapshots (key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, key, value, schema.NewStamp(time.Now()).String())
	return err
}

func (c *Cache) getContext(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.conn.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// IndexJobs replaces the job index with jobs in a single transaction.
func (c *Cache) IndexJobs(ctx context.Context, jobs []schema.Job) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_index`); err != nil {
		return fmt.Errorf("failed to clear job index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_index (
			id, customer_name, phone_number, category, status, importance,
			total, paid, is_deleted, is_archived, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_name = excluded.customer_name,
			phone_number = excluded.phone_number,
			category = excluded.category,
			status = excluded.status,
			importance = excluded.importance,
			total = excluded.total,
			paid = excluded.paid,
			is_deleted = excluded.is_deleted,
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare job index insert: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		_, err := stmt.ExecContext(ctx,
			j.ID, j.CustomerName, j.PhoneNumber, string(j.Category), string(j.Status), string(j.Importance),
			j.TotalPrice(), j.TotalPaid, j.IsDeleted, j.IsArchived,
			stampToNullString(j.UpdatedAt), stampToNullString(j.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to index job %s: %w", j.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job index: %w", err)
	}
	return nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status          schema.Status
	Search          string // matches customer name, phone or id
	IncludeDeleted  bool
	IncludeArchived bool
	Unpaid          bool
	Limit           int
}

// JobSummary is one row of the job index.
type JobSummary struct {
	ID           string
	CustomerName string
	PhoneNumber  string
	Category     schema.Category
	Status       schema.Status
	Importance   schema.Importance
	Total        float64
	Paid         float64
	IsDeleted    bool
	IsArchived   bool
	UpdatedAt    schema.Stamp
	CompletedAt  schema.Stamp
}

// ListJobs queries the job index, most recently updated first.
func (c *Cache) ListJobs(ctx context.Context, filter JobFilter) ([]JobSummary, error) {
	query := `
		SELECT id, customer_name, phone_number, category, status, importance,
		       total, paid, is_deleted, is_archived, updated_at, completed_at
		FROM job_index
		WHERE 1=1`
	var args []any

	if !filter.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if !filter.IncludeArchived {
		query += ` AND is_archived = 0`
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Unpaid {
		query += ` AND total > 0 AND paid < total`
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		query += ` AND (customer_name LIKE ? OR phone_number LIKE ? OR id = ?)`
		like := "%" + s + "%"
		args = append(args, like, like, s)
	}

	query += ` ORDER BY updated_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job index: %w", err)
	}
	defer rows.Close()

	return scanJobSummaries(rows)
}

func scanJobSummaries(rows *sql.Rows) ([]JobSummary, error) {
	var out []JobSummary
	for rows.Next() {
		var (
			s                      JobSummary
			category, status, imp  string
			updatedAt, completedAt sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &s.CustomerName, &s.PhoneNumber, &category, &status, &imp,
			&s.Total, &s.Paid, &s.IsDeleted, &s.IsArchived, &updatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job index row: %w", err)
		}
		s.Category = schema.Category(category)
		s.Status = schema.Status(status)
		s.Importance = schema.Importance(imp)
		s.UpdatedAt = nullStringToStamp(updatedAt)
		s.CompletedAt = nullStringToStamp(completedAt)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job index: %w", err)
	}
	return out, nil
}

func stampToNullString(s schema.Stamp) sql.NullString {
	if s.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: s.String(), Valid: true}
}

func nullStringToStamp(ns sql.NullString) schema.Stamp {
	if !ns.Valid {
		return schema.Stamp{}
	}
	return schema.ParseStamp(ns.String)
}
