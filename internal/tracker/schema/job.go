package schema

import (
	"fmt"
	"strings"
)

// Category is the kind of work a job represents.
type Category string

const (
	CategoryRepair      Category = "Repair"
	CategoryFabrication Category = "Fabrication"
	CategoryDispatch    Category = "Deliveries and Dispatch"
)

// Importance ranks jobs on the board.
type Importance string

const (
	ImportanceLow    Importance = "Low"
	ImportanceMedium Importance = "Medium"
	ImportanceHigh   Importance = "High"
	ImportanceUrgent Importance = "Urgent"
)

// Status is where a job sits in the workshop pipeline.
type Status string

const (
	StatusNotStarted    Status = "not started"
	StatusInProgress    Status = "in progress"
	StatusAwaitingParts Status = "awaiting parts"
	StatusPowdercoaters Status = "powdercoaters"
	StatusComplete      Status = "complete"
)

// Categories lists the known job categories.
var Categories = []Category{CategoryRepair, CategoryFabrication, CategoryDispatch}

// Statuses lists the known job statuses in pipeline order.
var Statuses = []Status{StatusNotStarted, StatusInProgress, StatusAwaitingParts, StatusPowdercoaters, StatusComplete}

// ParseCategory matches s case-insensitively against the known categories.
// "dispatch" and "delivery" are accepted as shorthands.
func ParseCategory(s string) (Category, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if strings.ToLower(string(c)) == v {
			return c, nil
		}
	}
	switch v {
	case "dispatch", "delivery", "deliveries":
		return CategoryDispatch, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ParseImportance matches s case-insensitively against the known levels.
func ParseImportance(s string) (Importance, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, i := range []Importance{ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceUrgent} {
		if strings.ToLower(string(i)) == v {
			return i, nil
		}
	}
	return "", fmt.Errorf("unknown importance %q", s)
}

// ParseStatus matches s case-insensitively against the known statuses.
// Dashes and underscores are accepted in place of spaces.
func ParseStatus(s string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer("-", " ", "_", " ").Replace(v)
	for _, st := range Statuses {
		if string(st) == v {
			return st, nil
		}
	}
	if v == "completed" || v == "done" {
		return StatusComplete, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// JobItem is one priced line of work.
type JobItem struct {
	Description string  `json:"description" yaml:"description"`
	Price       float64 `json:"price" yaml:"price"`
}

// Measurement is a free-form dimension captured at intake.
type Measurement struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
	Units string `json:"units,omitempty" yaml:"units,omitempty"`
}

// Attachment is an embedded file, usually a photo, carried as a data URL.
type Attachment struct {
	Name    string `json:"name" yaml:"name"`
	DataURL string `json:"dataUrl" yaml:"dataUrl"`
}

// Payment is one entry in a job's payment history.
type Payment struct {
	Amount float64 `json:"amount" yaml:"amount"`
	Date   string  `json:"date" yaml:"date"`
}

// Job is a repair, fabrication or dispatch job on the workshop board.
type Job struct {
	Record `yaml:",inline"`

	Category              Category      `json:"category" yaml:"category"`
	CustomerName          string        `json:"customerName" yaml:"customerName"`
	PhoneNumber           string        `json:"phoneNumber" yaml:"phoneNumber"`
	Address               string        `json:"address" yaml:"address"`
	InvoiceNumber         string        `json:"invoiceNumber,omitempty" yaml:"invoiceNumber,omitempty"`
	QuoteNumber           string        `json:"quoteNumber,omitempty" yaml:"quoteNumber,omitempty"`
	Importance            Importance    `json:"importance" yaml:"importance"`
	Description           string        `json:"description" yaml:"description"`
	Date                  string        `json:"date" yaml:"date"`
	EstimatedDispatchDate string        `json:"estimatedDispatchDate,omitempty" yaml:"estimatedDispatchDate,omitempty"`
	Items                 []JobItem     `json:"items" yaml:"items"`
	Status                Status        `json:"status" yaml:"status"`
	Measurements          []Measurement `json:"measurements,omitempty" yaml:"measurements,omitempty"`
	Attachments           []Attachment  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	TotalPaid             float64       `json:"totalPaid,omitempty" yaml:"totalPaid,omitempty"`
	PaymentHistory        []Payment     `json:"paymentHistory,omitempty" yaml:"paymentHistory,omitempty"`
	CompletedAt           Stamp         `json:"completedAt,omitzero" yaml:"completedAt,omitempty"`
	IsArchived            bool          `json:"isArchived" yaml:"isArchived"`
	ArchivedAt            Stamp         `json:"archivedAt,omitzero" yaml:"archivedAt,omitempty"`
}

// TotalPrice sums the item prices.
func (j Job) TotalPrice() float64 {
	var total float64
	for _, item := range j.Items {
		total += item.Price
	}
	return total
}

// IsFullyPaid reports whether payments cover the item total. A job with a
// non-positive total counts as paid.
func (j Job) IsFullyPaid() bool {
	total := j.TotalPrice()
	if total <= 0 {
		return true
	}
	return j.TotalPaid >= total
}

// IsComplete reports whether the job reached the terminal status.
func (j Job) IsComplete() bool {
	return j.Status == StatusComplete
}

// Balance is the amount still owed, never negative.
func (j Job) Balance() float64 {
	if owed := j.TotalPrice() - j.TotalPaid; owed > 0 {
		return owed
	}
	return 0
}

// Active reports whether the job belongs on the working board.
func (j Job) Active() bool {
	return !j.IsDeleted && !j.IsArchived
}

// Validate checks the fields a new job cannot be created without.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(j.CustomerName) == "" {
		return fmt.Errorf("customer name is required")
	}
	for i, item := range j.Items {
		if item.Price < 0 {
			return fmt.Errorf("item %d has negative price", i)
		}
	}
	return nil
}

// SetDefaults fills fields that older files or partial rows may omit.
func (j *Job) SetDefaults() {
	if j.Importance == "" {
		j.Importance = ImportanceMedium
	}
	if j.Status == "" {
		j.Status = StatusNotStarted
	}
	if j.Category == "" {
		j.Category = CategoryRepair
	}
	if j.Items == nil {
		j.Items = []JobItem{}
	}
}
