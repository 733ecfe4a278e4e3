package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Dispatches       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tracker_dispatches_total", Help: "Store actions dispatched"}, []string{"action"})
	Pushes           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tracker_pushes_total", Help: "Outbound pushes by result"}, []string{"result"})
	Pulls            = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tracker_pulls_total", Help: "Remote fetches by table and result"}, []string{"table", "result"})
	RemoteEvents     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tracker_remote_events_total", Help: "Realtime change notifications by table"}, []string{"table"})
	DecodeErrors     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tracker_decode_errors_total", Help: "Remote rows skipped because they failed to decode"}, []string{"table"})
	FileWrites       = prometheus.NewCounter(prometheus.CounterOpts{Name: "tracker_file_writes_total", Help: "Durable state file writes"})
	FileWriteErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "tracker_file_write_errors_total", Help: "Durable state file writes that failed"})
	CacheWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "tracker_cache_write_errors_total", Help: "Fast cache writes that failed"})
	JobsArchived     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tracker_jobs_archived_total", Help: "Jobs archived by the retention sweeper"})
	Backups          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tracker_backups_total", Help: "Snapshot uploads by result"}, []string{"result"})
	SyncState        = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "tracker_sync_state", Help: "1 for the current sync status, 0 otherwise"}, []string{"state"})
	RemoteConnected  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tracker_remote_connected", Help: "1 while realtime subscriptions are open"})
)

// SetSyncState marks state as the only active sync status.
func SetSyncState(state string) {
	for _, s := range []string{"idle", "syncing", "success", "error"} {
		v := 0.0
		if s == state {
			v = 1
		}
		SyncState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Dispatches,
			Pushes,
			Pulls,
			RemoteEvents,
			DecodeErrors,
			FileWrites,
			FileWriteErrors,
			CacheWriteErrors,
			JobsArchived,
			Backups,
			SyncState,
			RemoteConnected,
		)
	})
	return promhttp.Handler()
}
