package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction names what an audit entry records.
type AuditAction string

const (
	AuditJobCreated    AuditAction = "JOB_CREATED"
	AuditJobUpdated    AuditAction = "JOB_UPDATED"
	AuditStatusUpdated AuditAction = "STATUS_UPDATED"
	AuditJobDeleted    AuditAction = "JOB_DELETED"
	AuditJobRestored   AuditAction = "JOB_RESTORED"
	AuditJobsImported  AuditAction = "JOBS_IMPORTED"
	AuditJobsArchived  AuditAction = "JOBS_ARCHIVED"
	// AuditJobsCleared is only ever received from older stations.
	AuditJobsCleared AuditAction = "JOBS_CLEARED"
)

// AuditEntry is one immutable line in the job audit log. ClientID marks the
// station that authored it.
type AuditEntry struct {
	ID        string      `json:"id" yaml:"id"`
	JobID     string      `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	Action    AuditAction `json:"action" yaml:"action"`
	Timestamp Stamp       `json:"timestamp" yaml:"timestamp"`
	Summary   string      `json:"summary" yaml:"summary"`
	ClientID  string      `json:"client_id,omitempty" yaml:"client_id,omitempty"`
}

// NewAuditID returns a "<unix-ms>-<random>" identifier. The random half is
// drawn from a v4 uuid so ids stay unique across stations.
func NewAuditID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), random[:12])
}
