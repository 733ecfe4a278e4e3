package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobsState is the jobs slice of the store together with the audit log,
// newest entry first.
type JobsState struct {
	Jobs  []Job        `json:"jobs" yaml:"jobs"`
	Audit []AuditEntry `json:"audit" yaml:"audit"`
}

// QueriesState is the queries slice of the store.
type QueriesState struct {
	Queries []Query `json:"queries" yaml:"queries"`
}

// BookingsState is the bookings slice of the store.
type BookingsState struct {
	Bookings []Booking `json:"bookings" yaml:"bookings"`
}

// State is the full tree persisted locally and reconciled with the remote.
// Values handed out by the store are never mutated in place, so a State can
// be read from any goroutine.
type State struct {
	Jobs     JobsState     `json:"jobs" yaml:"jobs"`
	Queries  QueriesState  `json:"queries" yaml:"queries"`
	Bookings BookingsState `json:"bookings" yaml:"bookings"`
}

// Empty returns a state with every collection allocated.
func Empty() State {
	return State{
		Jobs:     JobsState{Jobs: []Job{}, Audit: []AuditEntry{}},
		Queries:  QueriesState{Queries: []Query{}},
		Bookings: BookingsState{Bookings: []Booking{}},
	}
}

// Normalize returns a copy of s in which every record has an UpdatedAt,
// every collection is non-nil and jobs carry their defaults. Malformed input
// is repaired rather than rejected.
func (s State) Normalize(now time.Time) State {
	out := State{
		Jobs: JobsState{
			Jobs:  NormalizeJobs(s.Jobs.Jobs, now),
			Audit: append([]AuditEntry{}, s.Jobs.Audit...),
		},
		Queries:  QueriesState{Queries: NormalizeQueries(s.Queries.Queries, now)},
		Bookings: BookingsState{Bookings: NormalizeBookings(s.Bookings.Bookings, now)},
	}
	return out
}

// NormalizeJobs copies jobs, applying defaults and stamping missing UpdatedAt.
func NormalizeJobs(jobs []Job, now time.Time) []Job {
	out := make([]Job, len(jobs))
	for i, job := range jobs {
		job.SetDefaults()
		job.normalize(now)
		out[i] = job
	}
	return out
}

// NormalizeQueries copies queries, stamping missing UpdatedAt.
func NormalizeQueries(queries []Query, now time.Time) []Query {
	out := make([]Query, len(queries))
	for i, q := range queries {
		if q.Items == nil {
			q.Items = []QueryItem{}
		}
		q.normalize(now)
		out[i] = q
	}
	return out
}

// NormalizeBookings copies bookings, stamping missing UpdatedAt.
func NormalizeBookings(bookings []Booking, now time.Time) []Booking {
	out := make([]Booking, len(bookings))
	for i, b := range bookings {
		b.normalize(now)
		out[i] = b
	}
	return out
}

// Counts summarises a state for status output.
type Counts struct {
	Jobs           int `json:"jobs"`
	ActiveJobs     int `json:"activeJobs"`
	DeletedJobs    int `json:"deletedJobs"`
	ArchivedJobs   int `json:"archivedJobs"`
	Queries        int `json:"queries"`
	ActiveQueries  int `json:"activeQueries"`
	Bookings       int `json:"bookings"`
	ActiveBookings int `json:"activeBookings"`
	AuditEntries   int `json:"auditEntries"`
}

// Count tallies the collections in s.
func (s State) Count() Counts {
	c := Counts{
		Jobs:         len(s.Jobs.Jobs),
		Queries:      len(s.Queries.Queries),
		Bookings:     len(s.Bookings.Bookings),
		AuditEntries: len(s.Jobs.Audit),
	}
	for _, j := range s.Jobs.Jobs {
		switch {
		case j.IsArchived:
			c.ArchivedJobs++
		case j.IsDeleted:
			c.DeletedJobs++
		default:
			c.ActiveJobs++
		}
	}
	for _, q := range s.Queries.Queries {
		if !q.IsDeleted {
			c.ActiveQueries++
		}
	}
	for _, b := range s.Bookings.Bookings {
		if !b.IsDeleted {
			c.ActiveBookings++
		}
	}
	return c
}

// FindJob returns the job with id and whether it exists.
func (s State) FindJob(id string) (Job, bool) {
	for _, j := range s.Jobs.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// FindQuery returns the query with id and whether it exists.
func (s State) FindQuery(id string) (Query, bool) {
	for _, q := range s.Queries.Queries {
		if q.ID == id {
			return q, true
		}
	}
	return Query{}, false
}

// FindBooking returns the booking with id and whether it exists.
func (s State) FindBooking(id string) (Booking, bool) {
	for _, b := range s.Bookings.Bookings {
		if b.ID == id {
			return b, true
		}
	}
	return Booking{}, false
}

// Marshal serializes the state in the persisted format.
func (s State) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

// UnmarshalState parses a persisted state. It does not normalize.
func UnmarshalState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to parse state: %w", err)
	}
	return s, nil
}
