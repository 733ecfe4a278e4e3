// Package retention archives jobs that have been finished or deleted for
// longer than the retention window.
package retention

import (
	"io"
	"log"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// DefaultWindow is how long a finished or deleted job stays on the board.
const DefaultWindow = 60 * 24 * time.Hour

// Eligible reports whether job should be archived at now. The cutoff is
// inclusive: a job finished exactly window ago is eligible.
//
// Deleted jobs age from DeletedAt. Live jobs age from CompletedAt, and only
// once they are complete and fully paid.
func Eligible(job schema.Job, now time.Time, window time.Duration) bool {
	if job.IsArchived {
		return false
	}
	cutoff := now.Add(-window)

	if job.IsDeleted {
		return !job.DeletedAt.IsZero() && !job.DeletedAt.After(cutoff)
	}

	if !job.IsComplete() || job.CompletedAt.IsZero() || !job.IsFullyPaid() {
		return false
	}
	return !job.CompletedAt.After(cutoff)
}

// Candidates returns the ids of jobs eligible for archival at now.
func Candidates(jobs []schema.Job, now time.Time, window time.Duration) []string {
	var ids []string
	for _, job := range jobs {
		if Eligible(job, now, window) {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

// Sweeper archives eligible jobs in a store.
type Sweeper struct {
	Window time.Duration
	Now    func() time.Time
	Logger *log.Logger
}

// New returns a Sweeper with the given window. A zero window means DefaultWindow.
func New(window time.Duration, logger *log.Logger) *Sweeper {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Sweeper{Window: window, Now: time.Now, Logger: logger}
}

// Sweep archives every eligible job in s with a single ArchiveJobs dispatch
// and returns the archived ids. Nothing is dispatched when no job qualifies.
func (w *Sweeper) Sweep(s *store.Store) []string {
	now := w.Now()
	var archived []string

	s.Apply(func(state schema.State) store.Action {
		archived = Candidates(state.Jobs.Jobs, now, w.Window)
		if len(archived) == 0 {
			return nil
		}
		return store.ArchiveJobs{IDs: archived}
	})

	if len(archived) > 0 {
		telemetry.JobsArchived.Add(float64(len(archived)))
		w.Logger.Printf("Archived %d jobs past the %s retention window", len(archived), w.Window)
	}
	return archived
}
