package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// heartbeatInterval is how often the realtime socket pings the server.
var heartbeatInterval = 30 * time.Second

// realtimeReadLimit bounds one realtime frame; job rows carry photo data.
const realtimeReadLimit = 32 << 20

// phxMessage is a Phoenix channel frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []postgresChange `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type changePayload struct {
	Data struct {
		Type   string `json:"type"`
		Table  string `json:"table"`
		Record Row    `json:"record"`
	} `json:"data"`
}

// realtimeSocket is one Phoenix websocket shared by every channel.
type realtimeSocket struct {
	conn   *websocket.Conn
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
	ref    atomic.Uint64
	topics atomic.Uint64

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*realtimeChannel
	replies  map[string]chan phxReply
	done     chan struct{}
	err      error
}

func dialRealtime(ctx context.Context, url string, logger *log.Logger) (*realtimeSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime: %w", err)
	}
	conn.SetReadLimit(realtimeReadLimit)

	sockCtx, cancel := context.WithCancel(context.Background())
	s := &realtimeSocket{
		conn:     conn,
		logger:   logger,
		ctx:      sockCtx,
		cancel:   cancel,
		channels: make(map[string]*realtimeChannel),
		replies:  make(map[string]chan phxReply),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	go s.heartbeatLoop()
	return s, nil
}

func (s *realtimeSocket) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *realtimeSocket) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *realtimeSocket) send(ctx context.Context, msg phxMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Event, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// join opens a postgres_changes channel for table and waits for the server
// to accept it.
func (s *realtimeSocket) join(ctx context.Context, table Table, events []EventType, token string, fn func(Notification)) (*realtimeChannel, error) {
	topic := fmt.Sprintf("realtime:%s_changes:%d", table, s.topics.Add(1))

	var payload joinPayload
	for _, e := range events {
		payload.Config.PostgresChanges = append(payload.Config.PostgresChanges, postgresChange{
			Event:  string(e),
			Schema: "public",
			Table:  string(table),
		})
	}
	payload.AccessToken = token
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode join: %w", err)
	}

	ref := s.nextRef()
	ch := newRealtimeChannel(s, topic, ref, table, events, fn)
	reply := make(chan phxReply, 1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.channels[topic] = ch
	s.replies[ref] = reply
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.channels, topic)
		delete(s.replies, ref)
		s.mu.Unlock()
	}

	if err := s.send(ctx, phxMessage{Topic: topic, Event: "phx_join", Payload: body, Ref: &ref, JoinRef: &ref}); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to join %s: %w", table, err)
	}

	select {
	case r := <-reply:
		if r.Status != "ok" {
			cleanup()
			return nil, fmt.Errorf("realtime rejected %s: %s", table, r.Response)
		}
		return ch, nil
	case <-s.done:
		cleanup()
		return nil, fmt.Errorf("failed to join %s: %w", table, s.closeErr())
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

func (s *realtimeSocket) closeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *realtimeSocket) readLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.close(fmt.Errorf("realtime connection lost: %w", err))
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Ignoring malformed realtime frame: %v", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *realtimeSocket) handle(msg phxMessage) {
	switch msg.Event {
	case "phx_reply":
		if msg.Ref == nil {
			return
		}
		s.mu.Lock()
		reply, ok := s.replies[*msg.Ref]
		delete(s.replies, *msg.Ref)
		s.mu.Unlock()
		if !ok {
			return
		}
		var r phxReply
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			r.Status = "error"
			r.Response = json.RawMessage(strconv.Quote(err.Error()))
		}
		reply <- r

	case "postgres_changes":
		ch := s.channel(msg.Topic)
		if ch == nil {
			return
		}
		var p changePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.logger.Printf("Ignoring malformed change on %s: %v", ch.table, err)
			return
		}
		ch.deliver(Notification{Table: ch.table, Type: EventType(p.Data.Type), Record: p.Data.Record})

	case "phx_error":
		if ch := s.channel(msg.Topic); ch != nil {
			s.drop(ch.topic)
			ch.end(fmt.Errorf("realtime channel for %s failed: %s", ch.table, msg.Payload))
		}

	case "phx_close":
		if ch := s.channel(msg.Topic); ch != nil {
			s.drop(ch.topic)
			ch.end(fmt.Errorf("realtime channel for %s closed by server", ch.table))
		}
	}
}

func (s *realtimeSocket) channel(topic string) *realtimeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[topic]
}

func (s *realtimeSocket) drop(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, topic)
}

func (s *realtimeSocket) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ref := s.nextRef()
			ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
			err := s.send(ctx, phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage("{}"), Ref: &ref})
			cancel()
			if err != nil {
				s.close(fmt.Errorf("realtime heartbeat failed: %w", err))
				return
			}
		}
	}
}

// close tears the socket down and ends every channel with err.
func (s *realtimeSocket) close(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	channels := s.channels
	s.channels = make(map[string]*realtimeChannel)
	close(s.done)
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")

	for _, ch := range channels {
		ch.end(err)
	}
}

// realtimeChannel is one joined topic.
type realtimeChannel struct {
	*feed
	sock    *realtimeSocket
	topic   string
	joinRef string
}

func newRealtimeChannel(sock *realtimeSocket, topic, joinRef string, table Table, events []EventType, fn func(Notification)) *realtimeChannel {
	c := &realtimeChannel{feed: newFeed(table, events, fn), sock: sock, topic: topic, joinRef: joinRef}
	c.leave = c.sendLeave
	return c
}

// sendLeave leaves the topic. The shared socket stays open.
func (c *realtimeChannel) sendLeave() {
	c.sock.drop(c.topic)
	if c.sock.isDone() {
		return
	}
	ref := c.sock.nextRef()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.sock.send(ctx, phxMessage{Topic: c.topic, Event: "phx_leave", Payload: json.RawMessage("{}"), Ref: &ref, JoinRef: &c.joinRef})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.sock.logger.Printf("Failed to leave %s: %v", c.topic, err)
	}
}
