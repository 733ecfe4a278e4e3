package daemon

import (
	"sync"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
)

// SyncState is the coarse state of the remote sync.
type SyncState string

const (
	StateIdle    SyncState = "idle"
	StateSyncing SyncState = "syncing"
	StateSuccess SyncState = "success"
	StateError   SyncState = "error"
)

// Status is one reading of the sync state. Message is set for errors and for
// the unconfigured idle state.
type Status struct {
	State     SyncState `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusSignal holds the current sync status and notifies subscribers of
// every change.
type StatusSignal struct {
	mu        sync.Mutex
	current   Status
	listeners map[int]func(Status)
	nextID    int
	now       func() time.Time
}

// NewStatusSignal returns a signal in the idle state.
func NewStatusSignal() *StatusSignal {
	s := &StatusSignal{
		listeners: make(map[int]func(Status)),
		now:       time.Now,
	}
	s.current = Status{State: StateIdle, Timestamp: s.now().UTC()}
	telemetry.SetSyncState(string(StateIdle))
	return s
}

// Current returns the latest status.
func (s *StatusSignal) Current() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set records a new status and notifies subscribers outside the lock.
func (s *StatusSignal) Set(state SyncState, message string) Status {
	s.mu.Lock()
	st := Status{State: state, Message: message, Timestamp: s.now().UTC()}
	s.current = st
	listeners := make([]func(Status), 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	telemetry.SetSyncState(string(state))
	for _, l := range listeners {
		l(st)
	}
	return st
}

// Subscribe registers fn and returns a function that removes it.
func (s *StatusSignal) Subscribe(fn func(Status)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
