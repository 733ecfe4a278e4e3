package store

import (
	"fmt"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// ConvertQuery builds the job that replaces a logged query. Items carry over
// unpriced. The caller dispatches AddJob followed by DeleteQuery.
func ConvertQuery(s schema.State, queryID, jobID string, category schema.Category, now time.Time) (schema.Job, error) {
	q, ok := s.FindQuery(queryID)
	if !ok {
		return schema.Job{}, fmt.Errorf("query %s not found", queryID)
	}
	if q.IsDeleted {
		return schema.Job{}, fmt.Errorf("query %s is deleted", queryID)
	}

	items := make([]schema.JobItem, len(q.Items))
	for i, item := range q.Items {
		items[i] = schema.JobItem{Description: item.Description}
	}

	return schema.Job{
		Record:       schema.Record{ID: jobID},
		Category:     category,
		CustomerName: q.CustomerName,
		PhoneNumber:  q.PhoneNumber,
		Importance:   schema.ImportanceMedium,
		Description:  q.Description,
		Date:         now.Format("2006-01-02"),
		Items:        items,
		Status:       schema.StatusNotStarted,
	}, nil
}
