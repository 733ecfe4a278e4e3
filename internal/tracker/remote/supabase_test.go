package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestRealtimeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://abc.supabase.co", want: "wss://abc.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0"},
		{in: "http://localhost:54321/", want: "ws://localhost:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0"},
		{in: "ftp://nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := realtimeURL(strings.TrimRight(tt.in, "/"), "k")
		if (err != nil) != tt.wantErr {
			t.Errorf("realtimeURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("realtimeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// fakePhoenix accepts realtime joins and lets a test push changes to them.
type fakePhoenix struct {
	t *testing.T

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]string // table -> topic
	joined chan string
	left   chan string
}

func newFakePhoenix(t *testing.T) (*fakePhoenix, *httptest.Server) {
	f := &fakePhoenix{
		t:      t,
		topics: make(map[string]string),
		joined: make(chan string, 8),
		left:   make(chan string, 8),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/realtime/v1/websocket", f.serve)
	mux.HandleFunc("/rest/v1/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "test-key" {
			http.Error(w, "missing apikey", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"1","customer_name":"Sam"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePhoenix) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("apikey") != "test-key" {
		http.Error(w, "bad key", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "phx_join":
			var p joinPayload
			_ = json.Unmarshal(msg.Payload, &p)
			table := p.Config.PostgresChanges[0].Table
			f.mu.Lock()
			f.topics[table] = msg.Topic
			f.mu.Unlock()
			f.reply(ctx, msg)
			f.joined <- table
		case "phx_leave":
			f.reply(ctx, msg)
			f.left <- msg.Topic
		case "heartbeat":
			f.reply(ctx, msg)
		}
	}
}

func (f *fakePhoenix) reply(ctx context.Context, msg phxMessage) {
	f.write(ctx, phxMessage{
		Topic:   msg.Topic,
		Event:   "phx_reply",
		Payload: json.RawMessage(`{"status":"ok","response":{}}`),
		Ref:     msg.Ref,
	})
}

func (f *fakePhoenix) write(ctx context.Context, msg phxMessage) {
	data, _ := json.Marshal(msg)
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Write(ctx, websocket.MessageText, data)
}

func (f *fakePhoenix) change(ctx context.Context, table, typ, record string) {
	f.mu.Lock()
	topic := f.topics[table]
	f.mu.Unlock()
	payload := `{"ids":[1],"data":{"schema":"public","table":"` + table + `","type":"` + typ + `","record":` + record + `}}`
	f.write(ctx, phxMessage{Topic: topic, Event: "postgres_changes", Payload: json.RawMessage(payload)})
}

func (f *fakePhoenix) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close(websocket.StatusGoingAway, "restart")
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func TestSupabaseRealtime(t *testing.T) {
	fake, srv := newFakePhoenix(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	backend, err := NewSupabaseBackend(srv.URL, "test-key", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewSupabaseBackend() error = %v", err)
	}
	defer backend.Close()

	got := make(chan string, 8)
	client := NewClient(backend, "me", nil)
	sub, err := client.Subscribe(ctx, func(e Event) {
		label := string(e.Table)
		if e.Audit != nil {
			label += ":" + e.Audit.ID
		}
		got <- label
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for range Tables {
		waitFor(t, fake.joined)
	}

	fake.change(ctx, "jobs", "UPDATE", `{"id":"1"}`)
	if v := waitFor(t, got); v != "jobs" {
		t.Errorf("event = %q, want jobs", v)
	}

	fake.change(ctx, "job_audit", "INSERT", `{"id":"7-a","action":"JOB_CREATED","client_id":"me"}`)
	fake.change(ctx, "job_audit", "INSERT", `{"id":"8-b","action":"JOB_CREATED","client_id":"them"}`)
	if v := waitFor(t, got); v != "job_audit:8-b" {
		t.Errorf("event = %q, want only the foreign audit insert", v)
	}

	fake.drop()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end when the socket dropped")
	}
	if sub.Err() == nil {
		t.Error("expected a connection error")
	}
}

func TestSupabaseUnsubscribeLeaves(t *testing.T) {
	fake, srv := newFakePhoenix(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	backend, err := NewSupabaseBackend(srv.URL, "test-key", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	sub, err := backend.Subscribe(ctx, TableJobs, []EventType{EventAll}, func(Notification) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	waitFor(t, fake.joined)

	sub.Unsubscribe()
	if topic := waitFor(t, fake.left); !strings.HasPrefix(topic, "realtime:jobs_changes") {
		t.Errorf("left %q", topic)
	}
	if sub.Err() != nil {
		t.Errorf("Err() after Unsubscribe = %v", sub.Err())
	}
}

func TestSupabaseSelect(t *testing.T) {
	_, srv := newFakePhoenix(t)

	backend, err := NewSupabaseBackend(srv.URL, "test-key", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	jobs, err := NewClient(backend, "me", nil).FetchJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].CustomerName != "Sam" {
		t.Errorf("FetchJobs() = %+v", jobs)
	}

	if err := backend.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.SelectAll(context.Background(), TableJobs, SelectOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SelectAll() after Close error = %v", err)
	}
}
