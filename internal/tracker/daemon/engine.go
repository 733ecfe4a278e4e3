package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/debounce"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/persist"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/reconcile"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/remote"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/retention"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// NotConfiguredMessage is the status message shown while no remote is set up.
const NotConfiguredMessage = "Remote sync is not configured."

// ErrStopped is returned by Start and the manual triggers once the engine has
// stopped.
var ErrStopped = errors.New("sync engine stopped")

// Config holds configuration for the sync engine.
type Config struct {
	// ClientID marks audit entries authored by this station.
	ClientID string

	// Remote selects and configures the backend.
	Remote remote.Settings

	// PushDebounce is the quiet period between the last local change and
	// the outbound push.
	PushDebounce time.Duration

	// RemoteTimeout bounds every remote call.
	RemoteTimeout time.Duration

	// ReconnectInterval is how often a lost connection is retried.
	ReconnectInterval time.Duration

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration

	// RetentionWindow is passed to the retention sweeper.
	RetentionWindow time.Duration

	// Logger for engine activity
	Logger *log.Logger

	// Connect opens the backend. Defaults to remote.Connect.
	Connect func(ctx context.Context, s remote.Settings, logger *log.Logger) (remote.Backend, error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PushDebounce:      500 * time.Millisecond,
		RemoteTimeout:     15 * time.Second,
		ReconnectInterval: 10 * time.Second,
		SweepInterval:     time.Hour,
		RetentionWindow:   retention.DefaultWindow,
		Logger:            log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Connect:           remote.Connect,
	}
}

// MetaStore persists the engine's bookkeeping between runs. *persist.Cache
// implements it.
type MetaStore interface {
	Meta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

type requestKind int

const (
	requestPush requestKind = iota
	requestPull
)

type request struct {
	kind  requestKind
	reply chan error
}

// Engine keeps the store in sync with the remote. Local changes are pushed
// after a quiet period; remote changes are fetched, merged and written back
// with replace actions, which never schedule a push.
//
// All remote work runs on one loop goroutine. Store listeners, realtime
// callbacks and timers only hand messages to it.
type Engine struct {
	store   *store.Store
	meta    MetaStore
	config  *Config
	status  *StatusSignal
	sweeper *retention.Sweeper

	pushTimer    *debounce.Debouncer
	pushFire     chan struct{}
	requests     chan request
	mailbox      *mailbox
	remoteLoaded atomic.Bool
	started      atomic.Bool

	// Owned by the loop goroutine.
	client     *remote.Client
	sub       remote.Subscription
	localOnly bool
	watermark  string
	lastPush   time.Time

	lifecycle   sync.Mutex
	unsubscribe []func()
	stopOnce    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine for s with the default configuration.
func New(s *store.Store, meta MetaStore) (*Engine, error) {
	return NewWithConfig(s, meta, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration. meta may be nil,
// in which case the watermark lives only in memory.
func NewWithConfig(s *store.Store, meta MetaStore, config *Config) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.PushDebounce <= 0 {
		config.PushDebounce = defaults.PushDebounce
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = defaults.RemoteTimeout
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = defaults.ReconnectInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Connect == nil {
		config.Connect = remote.Connect
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:    s,
		meta:     meta,
		config:   config,
		status:   NewStatusSignal(),
		sweeper:  retention.New(config.RetentionWindow, config.Logger),
		pushFire: make(chan struct{}, 1),
		requests: make(chan request),
		mailbox:  newMailbox(),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.sweeper.Now = s.Now
	e.pushTimer = debounce.New(config.PushDebounce, func() {
		select {
		case e.pushFire <- struct{}{}:
		default:
		}
	})
	return e, nil
}

// Status returns the engine's status signal.
func (e *Engine) Status() *StatusSignal {
	return e.status
}

// RemoteLoaded reports whether the remote jobs have been merged at least once.
func (e *Engine) RemoteLoaded() bool {
	return e.remoteLoaded.Load()
}

// Start begins the engine's operation.
//
// It sweeps once, connects to the remote, pulls every table and subscribes
// to changes. This blocks until ctx is cancelled or Stop is called. Start
// returns ErrStopped without registering anything if Stop already ran.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already started")
	}

	e.lifecycle.Lock()
	if e.ctx.Err() != nil {
		e.lifecycle.Unlock()
		return ErrStopped
	}
	e.config.Logger.Println("Starting sync engine")

	e.loadBookkeeping()
	e.unsubscribe = append(e.unsubscribe,
		e.store.Subscribe(e.onChange),
		e.status.Subscribe(e.recordStatus),
	)
	e.sweeper.Sweep(e.store)

	e.wg.Add(1)
	go e.loop()
	e.lifecycle.Unlock()

	select {
	case <-ctx.Done():
		e.config.Logger.Println("Shutdown signal received")
		return e.Stop()
	case <-e.ctx.Done():
		return nil
	}
}

// Stop shuts the engine down. A pending push is dropped, not flushed; the
// backend is closed.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		e.config.Logger.Println("Stopping sync engine")
		e.pushTimer.Stop()

		e.lifecycle.Lock()
		e.cancel()
		unsubscribe := e.unsubscribe
		e.unsubscribe = nil
		e.lifecycle.Unlock()

		e.wg.Wait()
		for _, u := range unsubscribe {
			u()
		}
		e.config.Logger.Println("Sync engine stopped")
	})
	return nil
}

// PushNow pushes the current state immediately, bypassing the debounce.
func (e *Engine) PushNow(ctx context.Context) error {
	return e.request(ctx, requestPush)
}

// PullNow fetches and merges every remote table immediately.
func (e *Engine) PullNow(ctx context.Context) error {
	return e.request(ctx, requestPull)
}

func (e *Engine) request(ctx context.Context, kind requestKind) error {
	req := request{kind: kind, reply: make(chan error, 1)}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrStopped
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onChange runs on the dispatching goroutine.
func (e *Engine) onChange(c store.Change) {
	if store.IsReplace(c.Action) || !e.remoteLoaded.Load() {
		return
	}
	e.pushTimer.Trigger()
}

func (e *Engine) onRemoteEvent(ev remote.Event) {
	e.mailbox.put(ev)
}

func (e *Engine) loop() {
	defer e.wg.Done()
	defer e.disconnect()

	e.connect()

	reconnect := time.NewTicker(e.config.ReconnectInterval)
	defer reconnect.Stop()
	sweep := time.NewTicker(e.config.SweepInterval)
	defer sweep.Stop()

	for {
		var lost <-chan struct{}
		if e.sub != nil {
			lost = e.sub.Done()
		}

		select {
		case <-e.ctx.Done():
			return
		case <-e.pushFire:
			_ = e.push()
		case req := <-e.requests:
			req.reply <- e.serve(req.kind)
		case <-e.mailbox.ready:
			e.applyEvents()
		case <-lost:
			e.connectionLost()
		case <-reconnect.C:
			if e.sub == nil {
				e.connect()
			}
		case <-sweep.C:
			e.sweeper.Sweep(e.store)
		}
	}
}

func (e *Engine) serve(kind requestKind) error {
	if err := e.ensureClient(); err != nil {
		if errors.Is(err, remote.ErrNotConfigured) {
			e.status.Set(StateError, NotConfiguredMessage)
		} else {
			e.fail(err)
		}
		return err
	}

	switch kind {
	case requestPush:
		e.pushTimer.Cancel()
		return e.push()
	case requestPull:
		e.status.Set(StateSyncing, "")
		if err := e.pull(); err != nil {
			e.fail(err)
			return err
		}
		e.status.Set(StateSuccess, "Synced")
		return nil
	}
	return fmt.Errorf("unknown request %d", kind)
}

// remoteContext bounds one remote call.
func (e *Engine) remoteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.config.RemoteTimeout)
}

func (e *Engine) ensureClient() error {
	if e.client != nil {
		return nil
	}

	ctx, cancel := e.remoteContext()
	defer cancel()

	backend, err := e.config.Connect(ctx, e.config.Remote, e.config.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to remote: %w", err)
	}
	e.client = remote.NewClient(backend, e.config.ClientID, e.config.Logger)
	e.localOnly = false
	return nil
}

// connect runs the full connect cycle: pull every table, then subscribe.
// The reconnect ticker calls it again while there is no subscription, even
// after ErrNotConfigured.
func (e *Engine) connect() {
	if err := e.ensureClient(); err != nil {
		if errors.Is(err, remote.ErrNotConfigured) {
			if !e.localOnly {
				e.localOnly = true
				e.config.Logger.Println("Remote sync is not configured; running local-only")
				e.status.Set(StateIdle, NotConfiguredMessage)
			}
			return
		}
		e.fail(err)
		return
	}

	e.status.Set(StateSyncing, "")

	var errs []error
	if err := e.pull(); err != nil {
		errs = append(errs, err)
	}
	if err := e.subscribe(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		e.fail(err)
		return
	}
	e.status.Set(StateSuccess, "Synced")
}

func (e *Engine) subscribe() error {
	if e.sub != nil {
		return nil
	}
	ctx, cancel := e.remoteContext()
	defer cancel()

	sub, err := e.client.Subscribe(ctx, e.onRemoteEvent)
	if err != nil {
		return err
	}
	e.sub = sub
	telemetry.RemoteConnected.Set(1)
	e.config.Logger.Println("Subscribed to remote changes")
	return nil
}

func (e *Engine) connectionLost() {
	err := e.sub.Err()
	e.sub = nil
	telemetry.RemoteConnected.Set(0)
	if err == nil {
		err = errors.New("realtime subscription ended")
	}
	e.config.Logger.Printf("Lost remote subscription: %v", err)
	e.status.Set(StateError, err.Error())
}

func (e *Engine) disconnect() {
	if e.sub != nil {
		e.sub.Unsubscribe()
		e.sub = nil
		telemetry.RemoteConnected.Set(0)
	}
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			e.config.Logger.Printf("Error closing remote: %v", err)
		}
		e.client = nil
	}
}

func (e *Engine) fail(err error) {
	e.config.Logger.Printf("Sync failed: %v", err)
	e.status.Set(StateError, err.Error())
}

// push uploads the current state and advances the audit watermark.
func (e *Engine) push() error {
	if e.client == nil {
		return nil
	}
	e.status.Set(StateSyncing, "")

	// Stamps have millisecond precision; anything edited during the push
	// stays newer than lastPush.
	startedAt := e.store.Now().Add(-time.Millisecond)
	state := e.store.State()

	ctx, cancel := e.remoteContext()
	watermark, err := e.client.Push(ctx, state, e.watermark)
	cancel()
	if err != nil {
		e.fail(err)
		return err
	}

	e.watermark = watermark
	e.lastPush = startedAt
	e.saveBookkeeping()
	e.status.Set(StateSuccess, "Synced")
	return nil
}

// pull fetches and merges each table in turn. A failed table does not stop
// the others.
func (e *Engine) pull() error {
	var errs []error
	for _, table := range remote.Tables {
		if err := e.pullTable(table); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) pullTable(table remote.Table) error {
	ctx, cancel := e.remoteContext()
	defer cancel()

	switch table {
	case remote.TableJobs:
		jobs, err := e.client.FetchJobs(ctx)
		if err != nil {
			return err
		}
		e.applyJobs(jobs)
	case remote.TableAudit:
		audit, err := e.client.FetchAudit(ctx)
		if err != nil {
			return err
		}
		e.applyAudit(audit)
	case remote.TableQueries:
		queries, err := e.client.FetchQueries(ctx)
		if err != nil {
			return err
		}
		e.applyQueries(queries)
	case remote.TableBookings:
		bookings, err := e.client.FetchBookings(ctx)
		if err != nil {
			return err
		}
		e.applyBookings(bookings)
	}
	return nil
}

// merge is the remote-driven merge plus local records created since the
// last push, which the remote cannot know about yet. The count is how many
// merged records the remote is missing or holds an older copy of.
func merge[T reconcile.Entity](local, incoming []T, since time.Time) ([]T, int) {
	merged := reconcile.MergeEntities(local, incoming)
	unsynced := reconcile.Unsynced(local, incoming, since)
	return append(merged, unsynced...), len(unsynced) + reconcile.Ahead(local, incoming)
}

func (e *Engine) applyJobs(jobs []schema.Job) {
	var carried int
	e.store.Apply(func(s schema.State) store.Action {
		var merged []schema.Job
		merged, carried = merge(s.Jobs.Jobs, jobs, e.lastPush)
		return store.ReplaceJobs{Jobs: merged}
	})
	e.remoteLoaded.Store(true)
	e.sweeper.Sweep(e.store)
	e.pushUnsynced(carried)
}

func (e *Engine) applyAudit(entries []schema.AuditEntry) {
	e.store.Apply(func(s schema.State) store.Action {
		return store.ReplaceAudit{Entries: reconcile.MergeAudit(s.Jobs.Audit, entries)}
	})
}

func (e *Engine) applyQueries(queries []schema.Query) {
	var carried int
	e.store.Apply(func(s schema.State) store.Action {
		var merged []schema.Query
		merged, carried = merge(s.Queries.Queries, queries, e.lastPush)
		return store.ReplaceQueries{Queries: merged}
	})
	e.pushUnsynced(carried)
}

func (e *Engine) applyBookings(bookings []schema.Booking) {
	var carried int
	e.store.Apply(func(s schema.State) store.Action {
		var merged []schema.Booking
		merged, carried = merge(s.Bookings.Bookings, bookings, e.lastPush)
		return store.ReplaceBookings{Bookings: merged}
	})
	e.pushUnsynced(carried)
}

func (e *Engine) pushUnsynced(n int) {
	if n == 0 {
		return
	}
	e.config.Logger.Printf("Keeping %d local records the remote has not seen", n)
	e.pushTimer.Trigger()
}

// applyEvents drains the mailbox: audit inserts merge directly, other
// tables are refetched once however many events arrived.
func (e *Engine) applyEvents() {
	tables, audit := e.mailbox.take()
	if e.client == nil {
		return
	}
	if len(audit) > 0 {
		e.applyAudit(audit)
	}
	for _, table := range remote.Tables {
		if table == remote.TableAudit || !tables[table] {
			continue
		}
		if err := e.pullTable(table); err != nil {
			e.fail(err)
		}
	}
}

func (e *Engine) loadBookkeeping() {
	if e.meta == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	if id, ok, err := e.meta.Meta(ctx, persist.MetaLastAuditID); err != nil {
		e.config.Logger.Printf("Warning: failed to read audit watermark: %v", err)
	} else if ok {
		e.watermark = id
	}

	if at, ok, err := e.meta.Meta(ctx, persist.MetaLastPushAt); err != nil {
		e.config.Logger.Printf("Warning: failed to read last push time: %v", err)
	} else if ok {
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.lastPush = t
		}
	}
}

func (e *Engine) saveBookkeeping() {
	if e.meta == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	if err := e.meta.SetMeta(ctx, persist.MetaLastAuditID, e.watermark); err != nil {
		e.config.Logger.Printf("Warning: failed to save audit watermark: %v", err)
	}
	if err := e.meta.SetMeta(ctx, persist.MetaLastPushAt, e.lastPush.UTC().Format(time.RFC3339Nano)); err != nil {
		e.config.Logger.Printf("Warning: failed to save last push time: %v", err)
	}
}

// recordStatus keeps the last settled status in the metadata for the
// status command.
func (e *Engine) recordStatus(st Status) {
	if e.meta == nil || st.State == StateSyncing {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.meta.SetMeta(ctx, persist.MetaLastSyncStatus, string(data)); err != nil {
		e.config.Logger.Printf("Warning: failed to save sync status: %v", err)
	}
}

// mailbox collects realtime events without ever blocking the sender.
type mailbox struct {
	mu     sync.Mutex
	tables map[remote.Table]bool
	audit  []schema.AuditEntry
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		tables: make(map[remote.Table]bool),
		ready:  make(chan struct{}, 1),
	}
}

func (m *mailbox) put(ev remote.Event) {
	m.mu.Lock()
	if ev.Audit != nil {
		m.audit = append(m.audit, *ev.Audit)
	} else {
		m.tables[ev.Table] = true
	}
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// take empties the mailbox. Audit entries come back newest first.
func (m *mailbox) take() (map[remote.Table]bool, []schema.AuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables, audit := m.tables, m.audit
	m.tables = make(map[remote.Table]bool)
	m.audit = nil
	slices.Reverse(audit)
	return tables, audit
}
