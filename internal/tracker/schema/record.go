package schema

import "time"

// Record holds the fields every synced entity shares. It is embedded in
// Job, Query and Booking so the merge and retention code can treat them
// uniformly.
type Record struct {
	ID        string `json:"id" yaml:"id"`
	UpdatedAt Stamp  `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
	IsDeleted bool   `json:"isDeleted,omitempty" yaml:"isDeleted,omitempty"`
	DeletedAt Stamp  `json:"deletedAt,omitzero" yaml:"deletedAt,omitempty"`
}

// EntityID returns the record id.
func (r Record) EntityID() string { return r.ID }

// Revision returns the conflict-resolution timestamp. Missing stamps
// compare as the epoch.
func (r Record) Revision() time.Time {
	if r.UpdatedAt.IsZero() {
		return time.UnixMilli(0).UTC()
	}
	return r.UpdatedAt.Time
}

// Touch stamps UpdatedAt with now.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = NewStamp(now)
}

// MarkDeleted soft-deletes the record. The record keeps its place in its
// collection and stays a sync target.
func (r *Record) MarkDeleted(now time.Time) {
	r.IsDeleted = true
	r.DeletedAt = NewStamp(now)
	r.UpdatedAt = NewStamp(now)
}

// ClearDeleted undoes MarkDeleted and re-stamps the record.
func (r *Record) ClearDeleted(now time.Time) {
	r.IsDeleted = false
	r.DeletedAt = Stamp{}
	r.UpdatedAt = NewStamp(now)
}

// normalize fills in a missing UpdatedAt.
func (r *Record) normalize(now time.Time) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = NewStamp(now)
	}
}
