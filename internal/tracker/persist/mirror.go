package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/debounce"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// DefaultDurableDelay is the quiet period before the state file is rewritten.
const DefaultDurableDelay = 600 * time.Millisecond

// FastSink receives every serialized state synchronously.
type FastSink interface {
	WriteFast(data []byte) error
}

// DurableSink receives the latest serialized state after a quiet period.
type DurableSink interface {
	WriteDurable(data []byte) error
}

// jobIndexer is implemented by fast sinks that keep a queryable job index.
type jobIndexer interface {
	IndexJobs(ctx context.Context, jobs []schema.Job) error
}

// MirrorConfig holds configuration for a Mirror.
type MirrorConfig struct {
	// DurableDelay is the debounce window for durable writes.
	DurableDelay time.Duration

	// Logger receives write failures.
	Logger *log.Logger
}

// DefaultMirrorConfig returns the default mirror configuration.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{DurableDelay: DefaultDurableDelay}
}

// Mirror copies store changes to the local sinks. Write failures are logged
// and never reach the store.
//
// The fast sink gets every state as it is dispatched. The state file and the
// fast sink's job index, when it keeps one, are rewritten once per quiet
// period.
type Mirror struct {
	fast    FastSink
	durable DurableSink
	indexer jobIndexer
	logger  *log.Logger
	timer   *debounce.Debouncer

	mu          sync.Mutex
	pending     []byte
	pendingJobs []schema.Job
	indexDirty  bool

	writeMu sync.Mutex
}

// NewMirror creates a mirror. Either sink may be nil.
func NewMirror(fast FastSink, durable DurableSink, cfg MirrorConfig) *Mirror {
	if cfg.DurableDelay <= 0 {
		cfg.DurableDelay = DefaultDurableDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{fast: fast, durable: durable, logger: cfg.Logger}
	if idx, ok := fast.(jobIndexer); ok {
		m.indexer = idx
	}
	m.timer = debounce.New(cfg.DurableDelay, m.writeDeferred)
	return m
}

// Attach subscribes the mirror to s and returns the unsubscribe function.
func (m *Mirror) Attach(s *store.Store) func() {
	return s.Subscribe(m.Observe)
}

// Observe writes c.State to the fast sink and schedules a durable write.
func (m *Mirror) Observe(c store.Change) {
	m.Save(c.State)
}

// Save writes state to the fast sink and schedules the deferred writes.
func (m *Mirror) Save(state schema.State) {
	data, err := state.Marshal()
	if err != nil {
		m.logger.Printf("Failed to serialize state: %v", err)
		return
	}

	if m.fast != nil {
		if err := m.fast.WriteFast(data); err != nil {
			telemetry.CacheWriteErrors.Inc()
			m.logger.Printf("Cache write failed: %v", err)
		}
	}

	if m.durable == nil && m.indexer == nil {
		return
	}
	m.mu.Lock()
	if m.durable != nil {
		m.pending = data
	}
	if m.indexer != nil {
		m.pendingJobs = state.Jobs.Jobs
		m.indexDirty = true
	}
	m.mu.Unlock()
	m.timer.Trigger()
}

// Pending reports whether a deferred write is scheduled.
func (m *Mirror) Pending() bool {
	return m.timer.Pending()
}

// Flush performs the scheduled deferred writes now.
func (m *Mirror) Flush() {
	m.timer.Flush()
}

// Close flushes any scheduled deferred write and stops the mirror. Changes
// observed after Close still reach the fast sink but are not scheduled.
func (m *Mirror) Close() error {
	m.timer.Flush()
	m.timer.Stop()
	return nil
}

func (m *Mirror) writeDeferred() {
	// Timer callbacks and Flush may race; keep writes ordered.
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	data := m.pending
	jobs, reindex := m.pendingJobs, m.indexDirty
	m.pending = nil
	m.pendingJobs, m.indexDirty = nil, false
	m.mu.Unlock()

	if reindex {
		if err := m.indexer.IndexJobs(context.Background(), jobs); err != nil {
			telemetry.CacheWriteErrors.Inc()
			m.logger.Printf("Job index update failed: %v", err)
		}
	}
	if data != nil {
		m.writeDurable(data)
	}
}

func (m *Mirror) writeDurable(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err == nil {
		buf.WriteByte('\n')
		data = buf.Bytes()
	}

	if err := m.durable.WriteDurable(data); err != nil {
		telemetry.FileWriteErrors.Inc()
		m.logger.Printf("State file write failed: %v", err)
		return
	}
	telemetry.FileWrites.Inc()
}
