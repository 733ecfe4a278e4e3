// Package schema defines the workshop records that the tracker stores locally
// and synchronizes with the shared remote database.
//
// # Records
//
// Job, Query and Booking embed Record, which carries the fields the sync
// engine relies on:
//
//	{
//	  "id": "42",
//	  "updatedAt": "2026-03-01T09:30:00.000Z",
//	  "isDeleted": true,
//	  "deletedAt": "2026-03-01T09:30:00.000Z"
//	}
//
// UpdatedAt is stamped by every local mutation and is the only signal used
// to resolve conflicting edits. Deletion is a flag; records are never
// physically removed.
//
// # Timestamps
//
// Stamp parses leniently. Missing, null and unparseable values decode to the
// zero Stamp, which compares as the Unix epoch, so a malformed file or remote
// row never blocks a load.
//
// # State
//
// State is the persisted tree:
//
//	{ "jobs": { "jobs": [...], "audit": [...] },
//	  "queries": { "queries": [...] },
//	  "bookings": { "bookings": [...] } }
//
// It is the format of the local jobs.json file and of the cache snapshot.
package schema
