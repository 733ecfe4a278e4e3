// Package reconcile merges remote snapshots into local collections.
//
// Entities merge by last-writer-wins on their revision timestamp, with ties
// going to the remote copy. The remote snapshot defines membership: records
// that exist only locally are left out of a merge, since they are expected to
// reach the remote on the next push. The audit log merges as a union by id;
// no entry is ever dropped or overwritten.
//
// Both merges are idempotent: merging a snapshot into the result of merging
// the same snapshot changes nothing.
package reconcile

import (
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// Entity is a record that takes part in last-writer-wins merging.
type Entity interface {
	EntityID() string
	Revision() time.Time
}

// MergeEntities merges a remote snapshot with the local collection. The
// result holds exactly the remote ids, in remote order; for each id the local
// record wins only when its revision is strictly newer.
func MergeEntities[T Entity](local, remote []T) []T {
	byID := make(map[string]T, len(local))
	for _, l := range local {
		byID[l.EntityID()] = l
	}

	merged := make([]T, 0, len(remote))
	for _, r := range remote {
		l, ok := byID[r.EntityID()]
		if ok && l.Revision().After(r.Revision()) {
			merged = append(merged, l)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Newer returns whichever of local and remote wins under last-writer-wins.
func Newer[T Entity](local, remote T) T {
	if local.Revision().After(remote.Revision()) {
		return local
	}
	return remote
}

// MergeAudit prepends incoming entries whose ids are not already present.
// Existing entries keep their position and content.
func MergeAudit(current, incoming []schema.AuditEntry) []schema.AuditEntry {
	seen := make(map[string]bool, len(current)+len(incoming))
	for _, e := range current {
		seen[e.ID] = true
	}

	merged := make([]schema.AuditEntry, 0, len(current)+len(incoming))
	for _, e := range incoming {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}
	return append(merged, current...)
}

// Unsynced returns the local records missing from remote whose revision is
// after since. These are creations that have not been pushed yet; a zero
// since treats every local-only record as unsynced.
func Unsynced[T Entity](local, remote []T, since time.Time) []T {
	inRemote := make(map[string]bool, len(remote))
	for _, r := range remote {
		inRemote[r.EntityID()] = true
	}

	var out []T
	for _, l := range local {
		if inRemote[l.EntityID()] {
			continue
		}
		if since.IsZero() || l.Revision().After(since) {
			out = append(out, l)
		}
	}
	return out
}

// Ahead counts the local records that are strictly newer than their remote
// copy. A merge keeps them, so the remote is stale until they are pushed.
func Ahead[T Entity](local, remote []T) int {
	byID := make(map[string]T, len(remote))
	for _, r := range remote {
		byID[r.EntityID()] = r
	}

	n := 0
	for _, l := range local {
		if r, ok := byID[l.EntityID()]; ok && l.Revision().After(r.Revision()) {
			n++
		}
	}
	return n
}
