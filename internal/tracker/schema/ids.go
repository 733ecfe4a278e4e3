package schema

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// IDStrategy selects how new entity ids are allocated.
type IDStrategy string

const (
	// IDSequential allocates max(numeric ids)+1 within the collection. Two
	// offline stations can hand out the same id; the later write then
	// replaces the other entity on merge.
	IDSequential IDStrategy = "sequential"
	// IDUUID allocates random v4 uuids, unique across stations.
	IDUUID IDStrategy = "uuid"
)

// ParseIDStrategy validates a configured strategy name. Empty means sequential.
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch IDStrategy(s) {
	case "", IDSequential:
		return IDSequential, nil
	case IDUUID:
		return IDUUID, nil
	}
	return "", fmt.Errorf("unknown id strategy %q", s)
}

// NextID allocates an id that is not among existing.
func NextID(strategy IDStrategy, existing []string) string {
	if strategy == IDUUID {
		return uuid.NewString()
	}
	max := -1
	for _, id := range existing {
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return strconv.Itoa(max + 1)
}

// JobIDs lists the ids of jobs.
func JobIDs(jobs []Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

// QueryIDs lists the ids of queries.
func QueryIDs(queries []Query) []string {
	ids := make([]string, len(queries))
	for i, q := range queries {
		ids[i] = q.ID
	}
	return ids
}

// BookingIDs lists the ids of bookings.
func BookingIDs(bookings []Booking) []string {
	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	return ids
}
