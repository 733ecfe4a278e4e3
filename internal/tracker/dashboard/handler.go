package dashboard

import (
	"fmt"
	"log"
	"sync"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// SyncSource is the part of daemon.Engine the dashboard reads.
type SyncSource interface {
	Status() *daemon.StatusSignal
	RemoteLoaded() bool
}

// Handler bridges store changes and sync status updates to a Server.
type Handler struct {
	server *Server
	store  *store.Store
	sync   SyncSource
	logger *log.Logger

	mu          sync.Mutex
	unsubscribe []func()
}

// NewHandler creates a handler feeding server. Call Attach to start
// forwarding events.
func NewHandler(server *Server, s *store.Store, src SyncSource, logger *log.Logger) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("server cannot be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if src == nil {
		return nil, fmt.Errorf("sync source cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		store:  s,
		sync:   src,
		logger: logger,
	}
	server.setSnapshot(h.Snapshot)
	return h, nil
}

// Snapshot summarises the station right now.
func (h *Handler) Snapshot() Snapshot {
	return Snapshot{
		ClientID:     h.store.ClientID(),
		Sync:         h.sync.Status().Current(),
		RemoteLoaded: h.sync.RemoteLoaded(),
		Counts:       h.store.State().Count(),
	}
}

// Attach subscribes to the store and the sync status. Calling it twice is
// a no-op.
func (h *Handler) Attach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsubscribe != nil {
		return
	}
	h.unsubscribe = []func(){
		h.store.Subscribe(h.OnChange),
		h.sync.Status().Subscribe(h.OnSyncStatus),
	}
}

// Detach stops forwarding events.
func (h *Handler) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fn := range h.unsubscribe {
		fn()
	}
	h.unsubscribe = nil
}

// OnChange broadcasts a state_change message for one dispatch.
func (h *Handler) OnChange(c store.Change) {
	h.server.BroadcastData(MessageTypeStateChange, StateChangeData{
		Action: string(c.Action.Type()),
		Remote: store.IsReplace(c.Action),
		Counts: c.State.Count(),
	})
}

// OnSyncStatus broadcasts a sync_status message.
func (h *Handler) OnSyncStatus(st daemon.Status) {
	if st.State == daemon.StateError {
		h.logger.Printf("Sync error: %s", st.Message)
	}
	h.server.BroadcastData(MessageTypeSyncStatus, st)
}
