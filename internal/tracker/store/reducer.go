package store

import (
	"fmt"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// Env carries the impure inputs a reducer needs. Passing them in keeps
// Reduce deterministic under test.
type Env struct {
	Now        time.Time
	ClientID   string
	NewAuditID func(time.Time) string
}

func (e Env) audit(action schema.AuditAction, jobID, summary string) schema.AuditEntry {
	newID := e.NewAuditID
	if newID == nil {
		newID = schema.NewAuditID
	}
	return schema.AuditEntry{
		ID:        newID(e.Now),
		JobID:     jobID,
		Action:    action,
		Timestamp: schema.NewStamp(e.Now),
		Summary:   summary,
		ClientID:  e.ClientID,
	}
}

// Reduce returns the state that results from applying a to s. It never
// modifies s or any slice reachable from it, and it never fails: an action
// that names an unknown record leaves the state unchanged.
func Reduce(s schema.State, a Action, env Env) schema.State {
	switch a := a.(type) {
	case AddJob, UpdateJob, UpdateJobStatus, DeleteJob, RestoreJob, RecordPayment,
		SetJobs, ReplaceJobs, ArchiveJobs, SetAudit, ReplaceAudit:
		s.Jobs = reduceJobs(s.Jobs, a, env)
	case AddQuery, UpdateQuery, DeleteQuery, SetQueries, ReplaceQueries:
		s.Queries = reduceQueries(s.Queries, a, env)
	case AddBooking, UpdateBooking, DeleteBooking, SetBookings, ReplaceBookings:
		s.Bookings = reduceBookings(s.Bookings, a, env)
	}
	return s
}

func reduceJobs(s schema.JobsState, a Action, env Env) schema.JobsState {
	now := env.Now

	switch a := a.(type) {
	case AddJob:
		job := a.Job
		if job.ID == "" || indexOf(s.Jobs, job.ID) >= 0 {
			return s
		}
		job.SetDefaults()
		job.Touch(now)
		s.Jobs = prepend(s.Jobs, job)
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobCreated, job.ID,
			fmt.Sprintf("Job %s created for %s.", job.ID, job.CustomerName)))

	case UpdateJob:
		jobs, ok := updateAt(s.Jobs, a.Job.ID, func(existing schema.Job) schema.Job {
			next := a.Job
			next.Record = existing.Record
			next.IsArchived = existing.IsArchived
			next.ArchivedAt = existing.ArchivedAt
			next.CompletedAt = existing.CompletedAt
			applyStatus(&next, existing.Status, next.Status, now, false)
			next.SetDefaults()
			next.Touch(now)
			return next
		})
		if !ok {
			return s
		}
		s.Jobs = jobs
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobUpdated, a.Job.ID,
			fmt.Sprintf("Job %s updated.", a.Job.ID)))

	case UpdateJobStatus:
		jobs, ok := updateAt(s.Jobs, a.ID, func(job schema.Job) schema.Job {
			applyStatus(&job, job.Status, a.Status, now, true)
			job.Status = a.Status
			job.Touch(now)
			return job
		})
		if !ok {
			return s
		}
		s.Jobs = jobs
		s.Audit = prepend(s.Audit, env.audit(schema.AuditStatusUpdated, a.ID,
			fmt.Sprintf("Job %s status set to %s.", a.ID, a.Status)))

	case DeleteJob:
		jobs, ok := updateAt(s.Jobs, a.ID, func(job schema.Job) schema.Job {
			job.MarkDeleted(now)
			return job
		})
		if !ok {
			return s
		}
		s.Jobs = jobs
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobDeleted, a.ID,
			fmt.Sprintf("Job %s deleted.", a.ID)))

	case RestoreJob:
		jobs, ok := updateAt(s.Jobs, a.ID, func(job schema.Job) schema.Job {
			job.ClearDeleted(now)
			job.IsArchived = false
			job.ArchivedAt = schema.Stamp{}
			// A previous completion date moves to the restore time.
			if !job.CompletedAt.IsZero() {
				job.CompletedAt = schema.NewStamp(now)
			}
			return job
		})
		if !ok {
			return s
		}
		s.Jobs = jobs
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobRestored, a.ID,
			fmt.Sprintf("Job %s restored.", a.ID)))

	case RecordPayment:
		if a.Amount <= 0 {
			return s
		}
		date := a.Date
		if date == "" {
			date = now.UTC().Format("2006-01-02")
		}
		jobs, ok := updateAt(s.Jobs, a.ID, func(job schema.Job) schema.Job {
			history := make([]schema.Payment, 0, len(job.PaymentHistory)+1)
			history = append(history, job.PaymentHistory...)
			job.PaymentHistory = append(history, schema.Payment{Amount: a.Amount, Date: date})
			job.TotalPaid += a.Amount
			job.Touch(now)
			return job
		})
		if !ok {
			return s
		}
		s.Jobs = jobs
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobUpdated, a.ID,
			fmt.Sprintf("Payment of $%.2f recorded for job %s.", a.Amount, a.ID)))

	case SetJobs:
		s.Jobs = schema.NormalizeJobs(a.Jobs, now)
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobsImported, "",
			fmt.Sprintf("Imported %d jobs.", len(a.Jobs))))

	case ReplaceJobs:
		s.Jobs = append([]schema.Job{}, a.Jobs...)

	case ArchiveJobs:
		targets := make(map[string]bool, len(a.IDs))
		for _, id := range a.IDs {
			targets[id] = true
		}
		archived := 0
		jobs := make([]schema.Job, len(s.Jobs))
		for i, job := range s.Jobs {
			if targets[job.ID] && !job.IsArchived {
				job.IsArchived = true
				job.ArchivedAt = schema.NewStamp(now)
				job.Touch(now)
				archived++
			}
			jobs[i] = job
		}
		if archived == 0 {
			return s
		}
		s.Jobs = jobs
		s.Audit = prepend(s.Audit, env.audit(schema.AuditJobsArchived, "",
			fmt.Sprintf("Archived %d jobs after retention window.", archived)))

	case SetAudit:
		s.Audit = append([]schema.AuditEntry{}, a.Entries...)

	case ReplaceAudit:
		s.Audit = append([]schema.AuditEntry{}, a.Entries...)
	}

	return s
}

// applyStatus maintains CompletedAt across a status change. When force is
// set, moving to complete re-stamps even if the job was already complete.
func applyStatus(job *schema.Job, from, to schema.Status, now time.Time, force bool) {
	switch {
	case to == schema.StatusComplete && (force || from != schema.StatusComplete || job.CompletedAt.IsZero()):
		job.CompletedAt = schema.NewStamp(now)
	case to != schema.StatusComplete:
		job.CompletedAt = schema.Stamp{}
	}
}

func reduceQueries(s schema.QueriesState, a Action, env Env) schema.QueriesState {
	now := env.Now

	switch a := a.(type) {
	case AddQuery:
		q := a.Query
		if q.ID == "" || indexOf(s.Queries, q.ID) >= 0 {
			return s
		}
		q.SetDefaults()
		q.Touch(now)
		s.Queries = prepend(s.Queries, q)

	case UpdateQuery:
		if queries, ok := updateAt(s.Queries, a.Query.ID, func(existing schema.Query) schema.Query {
			next := a.Query
			next.Record = existing.Record
			next.SetDefaults()
			next.Touch(now)
			return next
		}); ok {
			s.Queries = queries
		}

	case DeleteQuery:
		if queries, ok := updateAt(s.Queries, a.ID, func(q schema.Query) schema.Query {
			q.MarkDeleted(now)
			return q
		}); ok {
			s.Queries = queries
		}

	case SetQueries:
		s.Queries = schema.NormalizeQueries(a.Queries, now)

	case ReplaceQueries:
		s.Queries = append([]schema.Query{}, a.Queries...)
	}

	return s
}

func reduceBookings(s schema.BookingsState, a Action, env Env) schema.BookingsState {
	now := env.Now

	switch a := a.(type) {
	case AddBooking:
		b := a.Booking
		if b.ID == "" || indexOf(s.Bookings, b.ID) >= 0 {
			return s
		}
		if b.Status == "" {
			b.Status = schema.BookingConfirmed
		}
		b.Touch(now)
		s.Bookings = prepend(s.Bookings, b)

	case UpdateBooking:
		if bookings, ok := updateAt(s.Bookings, a.Booking.ID, func(existing schema.Booking) schema.Booking {
			next := a.Booking
			next.Record = existing.Record
			if next.Status == "" {
				next.Status = existing.Status
			}
			next.Touch(now)
			return next
		}); ok {
			s.Bookings = bookings
		}

	case DeleteBooking:
		if bookings, ok := updateAt(s.Bookings, a.ID, func(b schema.Booking) schema.Booking {
			b.MarkDeleted(now)
			return b
		}); ok {
			s.Bookings = bookings
		}

	case SetBookings:
		s.Bookings = schema.NormalizeBookings(a.Bookings, now)

	case ReplaceBookings:
		s.Bookings = append([]schema.Booking{}, a.Bookings...)
	}

	return s
}

type identified interface {
	EntityID() string
}

func indexOf[T identified](items []T, id string) int {
	for i, item := range items {
		if item.EntityID() == id {
			return i
		}
	}
	return -1
}

// prepend returns a new slice with v in front of items.
func prepend[T any](items []T, v T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, v)
	return append(out, items...)
}

// updateAt copies items with the record matching id replaced by fn's
// result. It reports false, and returns items untouched, when id is unknown.
func updateAt[T identified](items []T, id string, fn func(T) T) ([]T, bool) {
	i := indexOf(items, id)
	if id == "" || i < 0 {
		return items, false
	}
	out := append([]T{}, items...)
	out[i] = fn(items[i])
	return out, true
}
