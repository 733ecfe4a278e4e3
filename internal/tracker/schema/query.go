package schema

import (
	"fmt"
	"strings"
)

// QueryItem is a bare description of work a caller asked about.
type QueryItem struct {
	Description string `json:"description" yaml:"description"`
}

// Query is a logged customer enquiry that may later become a job.
type Query struct {
	Record `yaml:",inline"`

	CustomerName string      `json:"customerName" yaml:"customerName"`
	PhoneNumber  string      `json:"phoneNumber" yaml:"phoneNumber"`
	Description  string      `json:"description" yaml:"description"`
	Items        []QueryItem `json:"items" yaml:"items"`
	Date         string      `json:"date" yaml:"date"`
}

// Validate checks the fields a quick-add query requires.
func (q Query) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("query id is required")
	}
	if strings.TrimSpace(q.CustomerName) == "" {
		return fmt.Errorf("customer name is required")
	}
	if strings.TrimSpace(q.PhoneNumber) == "" {
		return fmt.Errorf("phone number is required")
	}
	return nil
}

// SetDefaults fills fields a partial record may omit.
func (q *Query) SetDefaults() {
	if q.Items == nil {
		q.Items = []QueryItem{}
	}
	if strings.TrimSpace(q.Description) == "" {
		q.Description = "Phone query"
	}
}
