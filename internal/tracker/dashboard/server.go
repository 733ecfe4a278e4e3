// Package dashboard serves a live view of one station over HTTP.
//
// Connected WebSocket clients receive the sync status and a summary of every
// store change as they happen. /status returns the same information as a
// single JSON document for scripts and health probes.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// MessageType names a dashboard message.
type MessageType string

const (
	// MessageTypeSnapshot is sent to every client when it connects.
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeSyncStatus carries a daemon.Status.
	MessageTypeSyncStatus MessageType = "sync_status"

	// MessageTypeStateChange is sent after every store dispatch.
	MessageTypeStateChange MessageType = "state_change"
)

// Message is the envelope of every WebSocket message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StateChangeData describes one dispatched action.
type StateChangeData struct {
	Action string        `json:"action"`
	Remote bool          `json:"remote"`
	Counts schema.Counts `json:"counts"`
}

// Snapshot is the station summary served on /status.
type Snapshot struct {
	ClientID     string        `json:"clientId,omitempty"`
	Sync         daemon.Status `json:"sync"`
	RemoteLoaded bool          `json:"remoteLoaded"`
	Counts       schema.Counts `json:"counts"`
}

// Server serves the dashboard routes and fans messages out to clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	hub      *hub

	broadcast chan Message

	// snapshot is installed by a Handler; nil until one is attached.
	snapshotMu sync.RWMutex
	snapshot   func() Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config configures a Server.
type Config struct {
	// Port to listen on. Zero picks a free port.
	Port int

	// Host to bind. Empty binds every interface.
	Host string

	Logger *log.Logger
}

// DefaultConfig listens on port 8080.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer returns a server for config. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		hub:       newHub(config.Logger),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWebSocket)
	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())
	r.Get("/", s.handleRoot)
	return r
}

// Start listens and serves in the background. It returns once the listener
// is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")
	s.cancel()
	s.hub.closeAll("station shutting down")

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("server shutdown error: %w", serr)
		}
		cancel()
	}
	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return err
}

// Broadcast queues msg for every connected client. Messages are dropped
// when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastData marshals data into a message of type t and broadcasts it.
func (s *Server) BroadcastData(t MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", t, err)
		return
	}
	s.Broadcast(Message{Type: t, Timestamp: time.Now(), Data: raw})
}

func (s *Server) setSnapshot(fn func() Snapshot) {
	s.snapshotMu.Lock()
	s.snapshot = fn
	s.snapshotMu.Unlock()
}

// Snapshot returns the current station summary, or the zero value when no
// handler is attached.
func (s *Server) Snapshot() Snapshot {
	s.snapshotMu.RLock()
	fn := s.snapshot
	s.snapshotMu.RUnlock()
	if fn == nil {
		return Snapshot{}
	}
	return fn()
}

// broadcastLoop encodes each queued message once and hands it to the hub.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		var msg Message
		select {
		case <-s.ctx.Done():
			return
		case msg = <-s.broadcast:
		}

		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
			continue
		}
		s.hub.publish(data)
	}
}

// handleWebSocket accepts a client. The snapshot is queued before the client
// joins the hub, so it is always the first message the client sees.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn)
	if welcome, err := s.snapshotMessage(); err == nil {
		c.enqueue(welcome)
	} else {
		s.logger.Printf("Failed to encode snapshot: %v", err)
	}
	s.logger.Printf("Client connected from %s (total: %d)", r.RemoteAddr, s.hub.add(c))

	go c.writeLoop(s.ctx, func(err error) {
		s.logger.Printf("Failed to send to client: %v", err)
		s.hub.remove(c, websocket.StatusInternalError, "write failed")
	})
	go s.discardReads(c)
}

func (s *Server) snapshotMessage() ([]byte, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: MessageTypeSnapshot, Timestamp: time.Now(), Data: data})
}

// discardReads reads until the client goes away. The dashboard is one-way,
// so anything a client sends is dropped.
func (s *Server) discardReads(c *client) {
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			s.hub.remove(c, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{"ok", s.ClientCount()})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Diff King Job Tracker</title>
</head>
<body>
    <h1>Diff King station dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/status">/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}
