package store

import "github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"

// ActionType is the wire tag of an action.
type ActionType string

const (
	TypeAddJob          ActionType = "ADD_JOB"
	TypeUpdateJob       ActionType = "UPDATE_JOB"
	TypeUpdateJobStatus ActionType = "UPDATE_JOB_STATUS"
	TypeDeleteJob       ActionType = "DELETE_JOB"
	TypeRestoreJob      ActionType = "RESTORE_JOB"
	TypeRecordPayment   ActionType = "RECORD_PAYMENT"
	TypeSetJobs         ActionType = "SET_JOBS"
	TypeReplaceJobs     ActionType = "REPLACE_JOBS"
	TypeArchiveJobs     ActionType = "ARCHIVE_JOBS"
	TypeSetAudit        ActionType = "SET_AUDIT"
	TypeReplaceAudit    ActionType = "REPLACE_AUDIT"

	TypeAddQuery       ActionType = "ADD_QUERY"
	TypeUpdateQuery    ActionType = "UPDATE_QUERY"
	TypeDeleteQuery    ActionType = "DELETE_QUERY"
	TypeSetQueries     ActionType = "SET_QUERIES"
	TypeReplaceQueries ActionType = "REPLACE_QUERIES"

	TypeAddBooking      ActionType = "ADD_BOOKING"
	TypeUpdateBooking   ActionType = "UPDATE_BOOKING"
	TypeDeleteBooking   ActionType = "DELETE_BOOKING"
	TypeSetBookings     ActionType = "SET_BOOKINGS"
	TypeReplaceBookings ActionType = "REPLACE_BOOKINGS"
)

// Action is a typed mutation. Every action is a plain value; reducers decide
// what it does to the state.
type Action interface {
	Type() ActionType
}

// IsReplace reports whether a mirrors remote state. Replace actions are
// dispatched only by reconciliation and must never arm an outbound push.
func IsReplace(a Action) bool {
	switch a.(type) {
	case ReplaceJobs, ReplaceAudit, ReplaceQueries, ReplaceBookings:
		return true
	}
	return false
}

// Jobs

type AddJob struct{ Job schema.Job }
type UpdateJob struct{ Job schema.Job }
type UpdateJobStatus struct {
	ID     string
	Status schema.Status
}
type DeleteJob struct{ ID string }
type RestoreJob struct{ ID string }

// RecordPayment adds a payment to a job's history and running total.
type RecordPayment struct {
	ID     string
	Amount float64
	// Date is the day the money changed hands; empty means the dispatch day.
	Date string
}

// SetJobs replaces the job collection from an import.
type SetJobs struct{ Jobs []schema.Job }

// ReplaceJobs installs a reconciled job collection as-is.
type ReplaceJobs struct{ Jobs []schema.Job }

// ArchiveJobs flags the listed jobs as archived.
type ArchiveJobs struct{ IDs []string }

// SetAudit replaces the audit log from an import.
type SetAudit struct{ Entries []schema.AuditEntry }

// ReplaceAudit installs a merged audit log as-is.
type ReplaceAudit struct{ Entries []schema.AuditEntry }

func (AddJob) Type() ActionType { return TypeAddJob }
func (UpdateJob) Type() ActionType { return TypeUpdateJob }
func (UpdateJobStatus) Type() ActionType { return TypeUpdateJobStatus }
func (DeleteJob) Type() ActionType { return TypeDeleteJob }
func (RestoreJob) Type() ActionType { return TypeRestoreJob }
func (RecordPayment) Type() ActionType { return TypeRecordPayment }
func (SetJobs) Type() ActionType { return TypeSetJobs }
func (ReplaceJobs) Type() ActionType { return TypeReplaceJobs }
func (ArchiveJobs) Type() ActionType { return TypeArchiveJobs }
func (SetAudit) Type() ActionType { return TypeSetAudit }
func (ReplaceAudit) Type() ActionType { return TypeReplaceAudit }

// Queries

type AddQuery struct{ Query schema.Query }
type UpdateQuery struct{ Query schema.Query }
type DeleteQuery struct{ ID string }
type SetQueries struct{ Queries []schema.Query }
type ReplaceQueries struct{ Queries []schema.Query }

func (AddQuery) Type() ActionType { return TypeAddQuery }
func (UpdateQuery) Type() ActionType { return TypeUpdateQuery }
func (DeleteQuery) Type() ActionType { return TypeDeleteQuery }
func (SetQueries) Type() ActionType { return TypeSetQueries }
func (ReplaceQueries) Type() ActionType { return TypeReplaceQueries }

// Bookings

type AddBooking struct{ Booking schema.Booking }
type UpdateBooking struct{ Booking schema.Booking }
type DeleteBooking struct{ ID string }
type SetBookings struct{ Bookings []schema.Booking }
type ReplaceBookings struct{ Bookings []schema.Booking }

func (AddBooking) Type() ActionType { return TypeAddBooking }
func (UpdateBooking) Type() ActionType { return TypeUpdateBooking }
func (DeleteBooking) Type() ActionType { return TypeDeleteBooking }
func (SetBookings) Type() ActionType { return TypeSetBookings }
func (ReplaceBookings) Type() ActionType { return TypeReplaceBookings }
