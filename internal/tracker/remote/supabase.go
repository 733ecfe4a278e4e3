package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	postgrest "github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// SupabaseBackend reads and writes through the Supabase REST API and
// receives changes over Supabase Realtime.
type SupabaseBackend struct {
	client *supa.Client
	logger *log.Logger

	realtimeURL string
	key         string

	mu       sync.Mutex
	realtime *realtimeSocket
	closed   bool
}

// NewSupabaseBackend creates a backend for the project at projectURL.
func NewSupabaseBackend(projectURL, key string, logger *log.Logger) (*SupabaseBackend, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	rtURL, err := realtimeURL(projectURL, key)
	if err != nil {
		return nil, err
	}

	client, err := supa.NewClient(projectURL, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize supabase client: %w", err)
	}

	return &SupabaseBackend{
		client:      client,
		logger:      logger,
		realtimeURL: rtURL,
		key:         key,
	}, nil
}

// realtimeURL derives the realtime websocket endpoint from a project URL.
func realtimeURL(projectURL, key string) (string, error) {
	u, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("invalid supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid supabase url %q: scheme must be http or https", projectURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// call runs a blocking request and gives up when ctx ends. The request
// itself keeps running; its result is discarded.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func (b *SupabaseBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// SelectAll implements Backend.
func (b *SupabaseBackend) SelectAll(ctx context.Context, table Table, opts SelectOptions) ([]Row, error) {
	if b.isClosed() {
		return nil, ErrNotConnected
	}
	body, err := call(ctx, func() ([]byte, error) {
		q := b.client.From(string(table)).Select("*", "", false)
		if opts.OrderBy != "" {
			q = q.Order(opts.OrderBy, &postgrest.OrderOpts{Ascending: !opts.Descending})
		}
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit, "")
		}
		body, _, err := q.Execute()
		return body, err
	})
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", table, err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Upsert implements Backend.
func (b *SupabaseBackend) Upsert(ctx context.Context, table Table, rows any, conflictKey string) error {
	if b.isClosed() {
		return ErrNotConnected
	}
	_, err := call(ctx, func() (struct{}, error) {
		_, _, err := b.client.From(string(table)).Upsert(rows, conflictKey, "minimal", "").Execute()
		return struct{}{}, err
	})
	return err
}

// Subscribe implements Backend. All tables share one realtime socket.
func (b *SupabaseBackend) Subscribe(ctx context.Context, table Table, events []EventType, fn func(Notification)) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	sock := b.realtime
	if sock == nil || sock.isDone() {
		var err error
		sock, err = dialRealtime(ctx, b.realtimeURL, b.logger)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.realtime = sock
	}
	b.mu.Unlock()

	ch, err := sock.join(ctx, table, events, b.key, fn)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Close implements Backend.
func (b *SupabaseBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	sock := b.realtime
	b.realtime = nil
	b.mu.Unlock()

	if sock != nil {
		sock.close(ErrNotConnected)
	}
	return nil
}
