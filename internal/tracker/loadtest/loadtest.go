// Package loadtest simulates several stations editing the same shop data
// through a shared in-memory remote.
//
// Each station runs a real store, SQLite cache and sync engine. Stations
// apply random edits concurrently; the run then waits for every station to
// hold the same data and reports how long new records took to reach all the
// other stations.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/persist"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/remote"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// Options controls a simulation.
type Options struct {
	// Dir holds one cache database per station.
	Dir string

	Stations        int
	EditsPerStation int

	// EditInterval is the pause between two edits on one station.
	EditInterval time.Duration
	PushDebounce time.Duration

	// SettleTimeout bounds the wait for convergence after the last edit.
	SettleTimeout time.Duration

	Seed   int64
	Logger *log.Logger
}

// DefaultOptions returns a small, quick simulation.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:             dir,
		Stations:        3,
		EditsPerStation: 20,
		EditInterval:    5 * time.Millisecond,
		PushDebounce:    50 * time.Millisecond,
		SettleTimeout:   10 * time.Second,
		Seed:            42,
	}
}

// LatencyStats captures how long records took to propagate.
type LatencyStats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	P50     time.Duration // Median
	P95     time.Duration
	P99     time.Duration
	Samples int
}

// Report summarises a run.
type Report struct {
	Stations    int
	Edits       int
	Created     int
	Converged   bool
	SettleTime  time.Duration
	Elapsed     time.Duration
	Propagation *LatencyStats

	// Divergent lists the stations whose data differs from the first one.
	Divergent []string
	Counts    schema.Counts
}

// Station is one simulated workstation.
type Station struct {
	ID     string
	Store  *store.Store
	Engine *daemon.Engine
	Cache  *persist.Cache

	rng *rand.Rand
}

// Simulation is a set of stations sharing one remote.
type Simulation struct {
	opts     Options
	backend  *remote.MemoryBackend
	stations []*Station

	mu      sync.Mutex
	created map[string]time.Time
	seen    map[string]map[string]time.Time

	unsubscribe []func()
}

// sharedBackend keeps the remote open when a single station disconnects.
type sharedBackend struct {
	remote.Backend
}

func (sharedBackend) Close() error { return nil }

// NewSimulation creates the stations and their cache files. Call Close to
// release them.
func NewSimulation(opts Options) (*Simulation, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("simulation directory cannot be empty")
	}
	if opts.Stations < 2 {
		return nil, fmt.Errorf("need at least 2 stations, got %d", opts.Stations)
	}
	if opts.EditsPerStation < 1 {
		return nil, fmt.Errorf("need at least 1 edit per station")
	}
	if opts.PushDebounce <= 0 {
		opts.PushDebounce = daemon.DefaultConfig().PushDebounce
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	sim := &Simulation{
		opts:    opts,
		backend: remote.NewMemoryBackend(),
		created: make(map[string]time.Time),
		seen:    make(map[string]map[string]time.Time),
	}

	for i := 0; i < opts.Stations; i++ {
		st, err := sim.newStation(i)
		if err != nil {
			_ = sim.Close()
			return nil, err
		}
		sim.stations = append(sim.stations, st)
	}
	return sim, nil
}

func (sim *Simulation) newStation(i int) (*Station, error) {
	id := fmt.Sprintf("station-%02d", i+1)

	dir := filepath.Join(sim.opts.Dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	cache, err := persist.OpenCache(filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache for %s: %w", id, err)
	}

	s := store.New(schema.Empty(),
		store.WithClientID(id),
		store.WithIDStrategy(schema.IDUUID),
	)

	cfg := daemon.DefaultConfig()
	cfg.ClientID = id
	cfg.PushDebounce = sim.opts.PushDebounce
	cfg.ReconnectInterval = 100 * time.Millisecond
	cfg.Logger = log.New(sim.opts.Logger.Writer(), fmt.Sprintf("[%s] ", id), sim.opts.Logger.Flags())
	shared := sharedBackend{Backend: sim.backend}
	cfg.Connect = func(context.Context, remote.Settings, *log.Logger) (remote.Backend, error) {
		return shared, nil
	}

	engine, err := daemon.NewWithConfig(s, cache, cfg)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	st := &Station{
		ID:     id,
		Store:  s,
		Engine: engine,
		Cache:  cache,
		rng:    rand.New(rand.NewSource(sim.opts.Seed + int64(i))),
	}
	sim.unsubscribe = append(sim.unsubscribe, s.Subscribe(sim.observe(id)))
	return st, nil
}

// Stations returns the simulated stations.
func (sim *Simulation) Stations() []*Station {
	return sim.stations
}

// Backend returns the shared remote.
func (sim *Simulation) Backend() *remote.MemoryBackend {
	return sim.backend
}

// observe records when station id first sees each job.
func (sim *Simulation) observe(id string) store.Listener {
	return func(c store.Change) {
		if len(c.State.Jobs.Jobs) == len(c.Previous.Jobs.Jobs) && !store.IsReplace(c.Action) {
			return
		}
		now := time.Now()
		before := make(map[string]bool, len(c.Previous.Jobs.Jobs))
		for _, j := range c.Previous.Jobs.Jobs {
			before[j.ID] = true
		}

		sim.mu.Lock()
		defer sim.mu.Unlock()
		for _, j := range c.State.Jobs.Jobs {
			if before[j.ID] {
				continue
			}
			if _, ok := sim.seen[j.ID]; !ok {
				sim.seen[j.ID] = make(map[string]time.Time)
			}
			if _, ok := sim.seen[j.ID][id]; !ok {
				sim.seen[j.ID][id] = now
			}
		}
	}
}

// Run starts every engine, applies the edits and waits for convergence.
func (sim *Simulation) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	for _, st := range sim.stations {
		go func(e *daemon.Engine) { _ = e.Start(ctx) }(st.Engine)
	}
	if err := sim.waitLoaded(ctx); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for _, st := range sim.stations {
		wg.Add(1)
		go func(st *Station) {
			defer wg.Done()
			for i := 0; i < sim.opts.EditsPerStation; i++ {
				if ctx.Err() != nil {
					return
				}
				sim.edit(st)
				if sim.opts.EditInterval > 0 {
					time.Sleep(sim.opts.EditInterval)
				}
			}
		}(st)
	}
	wg.Wait()

	settleStart := time.Now()
	converged := sim.waitConverged(ctx, sim.opts.SettleTimeout)

	report := &Report{
		Stations:    len(sim.stations),
		Edits:       len(sim.stations) * sim.opts.EditsPerStation,
		Converged:   converged,
		SettleTime:  time.Since(settleStart),
		Elapsed:     time.Since(start),
		Divergent:   sim.divergent(),
		Counts:      sim.stations[0].Store.State().Count(),
		Propagation: sim.propagation(),
	}
	sim.mu.Lock()
	report.Created = len(sim.created)
	sim.mu.Unlock()

	return report, nil
}

func (sim *Simulation) waitLoaded(ctx context.Context) error {
	deadline := time.Now().Add(sim.opts.SettleTimeout)
	for time.Now().Before(deadline) {
		loaded := true
		for _, st := range sim.stations {
			loaded = loaded && st.Engine.RemoteLoaded()
		}
		if loaded {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return fmt.Errorf("stations did not load the remote within %s", sim.opts.SettleTimeout)
}

func (sim *Simulation) waitConverged(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(sim.divergent()) == 0 && !sim.pending() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
	return false
}

// pending reports whether any station is mid-sync.
func (sim *Simulation) pending() bool {
	for _, st := range sim.stations {
		if st.Engine.Status().Current().State == daemon.StateSyncing {
			return true
		}
	}
	return false
}

// edit applies one random mutation on st.
func (sim *Simulation) edit(st *Station) {
	state := st.Store.State()
	jobs := state.Jobs.Jobs

	switch n := st.rng.Intn(10); {
	case n < 4 || len(jobs) == 0:
		id := st.Store.NextJobID()
		sim.mu.Lock()
		sim.created[id] = time.Now()
		sim.mu.Unlock()
		st.Store.Dispatch(store.AddJob{Job: schema.Job{
			Record:       schema.Record{ID: id},
			Category:     categories[st.rng.Intn(len(categories))],
			CustomerName: fmt.Sprintf("Customer %s", id[:4]),
			Items:        []schema.JobItem{{Description: "labour", Price: float64(50 + st.rng.Intn(400))}},
		}})
	case n < 7:
		job := jobs[st.rng.Intn(len(jobs))]
		st.Store.Dispatch(store.UpdateJobStatus{ID: job.ID, Status: statuses[st.rng.Intn(len(statuses))]})
	case n < 8:
		job := jobs[st.rng.Intn(len(jobs))]
		st.Store.Dispatch(store.RecordPayment{ID: job.ID, Amount: float64(10 + st.rng.Intn(90))})
	case n < 9:
		st.Store.Dispatch(store.AddQuery{Query: schema.Query{
			Record:       schema.Record{ID: st.Store.NextQueryID()},
			CustomerName: "Walk-in",
			PhoneNumber:  "0400 000 000",
		}})
	default:
		st.Store.Dispatch(store.AddBooking{Booking: schema.Booking{
			Record:       schema.Record{ID: st.Store.NextBookingID()},
			CustomerName: "Booked",
			Date:         time.Now().AddDate(0, 0, 1+st.rng.Intn(14)).Format("2006-01-02"),
		}})
	}
}

var (
	categories = []schema.Category{schema.CategoryRepair, schema.CategoryFabrication, schema.CategoryDispatch}
	statuses   = []schema.Status{
		schema.StatusNotStarted,
		schema.StatusInProgress,
		schema.StatusAwaitingParts,
		schema.StatusPowdercoaters,
		schema.StatusComplete,
	}
)

// fingerprint renders the synced collections of a state in id order.
func fingerprint(s schema.State) string {
	var b strings.Builder
	writeSorted(&b, s.Jobs.Jobs)
	writeSorted(&b, s.Queries.Queries)
	writeSorted(&b, s.Bookings.Bookings)

	audit := make([]string, 0, len(s.Jobs.Audit))
	for _, e := range s.Jobs.Audit {
		audit = append(audit, e.ID)
	}
	sort.Strings(audit)
	b.WriteString(strings.Join(audit, ","))
	return b.String()
}

func writeSorted[T interface{ EntityID() string }](b *strings.Builder, items []T) {
	sorted := append([]T(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityID() < sorted[j].EntityID() })
	data, _ := json.Marshal(sorted)
	b.Write(data)
	b.WriteByte('\n')
}

func (sim *Simulation) divergent() []string {
	want := fingerprint(sim.stations[0].Store.State())
	var out []string
	for _, st := range sim.stations[1:] {
		if fingerprint(st.Store.State()) != want {
			out = append(out, st.ID)
		}
	}
	return out
}

// propagation computes, for every created job seen by all stations, the
// time from creation until the last station saw it.
func (sim *Simulation) propagation() *LatencyStats {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	var durations []time.Duration
	for id, created := range sim.created {
		seen := sim.seen[id]
		if len(seen) < len(sim.stations) {
			continue
		}
		var last time.Time
		for _, t := range seen {
			if t.After(last) {
				last = t
			}
		}
		durations = append(durations, last.Sub(created))
	}
	return computeLatencyStats(durations)
}

// Close stops every engine and closes the caches.
func (sim *Simulation) Close() error {
	for _, fn := range sim.unsubscribe {
		fn()
	}
	var firstErr error
	for _, st := range sim.stations {
		if err := st.Engine.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := st.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(durations)),
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		P99:     sorted[len(sorted)*99/100],
		Samples: len(durations),
	}
}

// Print writes a human-readable summary of r to w.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Stations:   %d\n", r.Stations)
	fmt.Fprintf(w, "Edits:      %d (%d new jobs)\n", r.Edits, r.Created)
	fmt.Fprintf(w, "Converged:  %v (settled in %v)\n", r.Converged, r.SettleTime.Round(time.Millisecond))
	if len(r.Divergent) > 0 {
		fmt.Fprintf(w, "Divergent:  %s\n", strings.Join(r.Divergent, ", "))
	}
	fmt.Fprintf(w, "Final data: %d jobs, %d queries, %d bookings, %d audit entries\n",
		r.Counts.Jobs, r.Counts.Queries, r.Counts.Bookings, r.Counts.AuditEntries)
	if p := r.Propagation; p != nil && p.Samples > 0 {
		fmt.Fprintf(w, "Propagation of new jobs (%d samples):\n", p.Samples)
		fmt.Fprintf(w, "  Min:          %v\n", p.Min)
		fmt.Fprintf(w, "  P50 (Median): %v\n", p.P50)
		fmt.Fprintf(w, "  Mean:         %v\n", p.Mean)
		fmt.Fprintf(w, "  P95:          %v\n", p.P95)
		fmt.Fprintf(w, "  P99:          %v\n", p.P99)
		fmt.Fprintf(w, "  Max:          %v\n", p.Max)
	}
	fmt.Fprintf(w, "Elapsed:    %v\n", r.Elapsed.Round(time.Millisecond))
}
