package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

var errMissingID = errors.New("missing id")

// variants returns the column names tried for a camelCase field, in order:
// camelCase, snake_case, lowercase.
func variants(camel string) []string {
	var snake strings.Builder
	for i, r := range camel {
		if unicode.IsUpper(r) {
			if i > 0 {
				snake.WriteByte('_')
			}
			snake.WriteRune(unicode.ToLower(r))
			continue
		}
		snake.WriteRune(r)
	}
	names := []string{camel}
	for _, n := range []string{snake.String(), strings.ToLower(camel)} {
		if n != names[len(names)-1] && n != camel {
			names = append(names, n)
		}
	}
	return names
}

// rowReader pulls typed fields out of a Row and remembers the first failure.
type rowReader struct {
	row   Row
	table Table
	id    string
	err   error
}

func newRowReader(table Table, row Row) *rowReader {
	r := &rowReader{row: row, table: table}
	r.id = r.str("id")
	if r.err == nil && strings.TrimSpace(r.id) == "" {
		r.err = &DecodeError{Table: table, Field: "id", Err: errMissingID}
	}
	return r
}

// lookup returns the first non-null value among the field's variants.
func (r *rowReader) lookup(field string) (json.RawMessage, bool) {
	for _, name := range variants(field) {
		v, ok := r.row[name]
		if !ok || len(v) == 0 || bytes.Equal(v, []byte("null")) {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r *rowReader) fail(field string, err error) {
	if r.err == nil {
		r.err = &DecodeError{Table: r.table, ID: r.id, Field: field, Err: err}
	}
}

// str reads a string; numbers are accepted and formatted.
func (r *rowReader) str(field string) string {
	v, ok := r.lookup(field)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	r.fail(field, errors.New("expected a string"))
	return ""
}

// num reads a number; numeric strings are accepted.
func (r *rowReader) num(field string) float64 {
	v, ok := r.lookup(field)
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	r.fail(field, errors.New("expected a number"))
	return 0
}

// boolean reads a bool; "true"/"false" strings and 0/1 are accepted.
func (r *rowReader) boolean(field string) bool {
	v, ok := r.lookup(field)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n != 0
	}
	r.fail(field, errors.New("expected a boolean"))
	return false
}

// stamp reads a timestamp. Unparseable values read as zero.
func (r *rowReader) stamp(field string) schema.Stamp {
	v, ok := r.lookup(field)
	if !ok {
		return schema.Stamp{}
	}
	var s schema.Stamp
	_ = s.UnmarshalJSON(v)
	return s
}

// into decodes a nested JSON value such as an item list.
func (r *rowReader) into(field string, dst any) {
	v, ok := r.lookup(field)
	if !ok {
		return
	}
	// Some clients store JSON columns as encoded strings.
	var encoded string
	if err := json.Unmarshal(v, &encoded); err == nil {
		v = json.RawMessage(encoded)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		r.fail(field, err)
	}
}

func (r *rowReader) record() schema.Record {
	return schema.Record{
		ID:        r.id,
		UpdatedAt: r.stamp("updatedAt"),
		IsDeleted: r.boolean("isDeleted"),
		DeletedAt: r.stamp("deletedAt"),
	}
}

// DecodeJob converts a remote row into a job.
func DecodeJob(row Row) (schema.Job, error) {
	r := newRowReader(TableJobs, row)
	if r.err != nil {
		return schema.Job{}, r.err
	}
	j := schema.Job{
		Record:                r.record(),
		Category:              schema.Category(r.str("category")),
		CustomerName:          r.str("customerName"),
		PhoneNumber:           r.str("phoneNumber"),
		Address:               r.str("address"),
		InvoiceNumber:         r.str("invoiceNumber"),
		QuoteNumber:           r.str("quoteNumber"),
		Importance:            schema.Importance(r.str("importance")),
		Description:           r.str("description"),
		Date:                  r.str("date"),
		EstimatedDispatchDate: r.str("estimatedDispatchDate"),
		Status:                schema.Status(r.str("status")),
		TotalPaid:             r.num("totalPaid"),
		CompletedAt:           r.stamp("completedAt"),
		IsArchived:            r.boolean("isArchived"),
		ArchivedAt:            r.stamp("archivedAt"),
	}
	r.into("items", &j.Items)
	r.into("measurements", &j.Measurements)
	r.into("attachments", &j.Attachments)
	r.into("paymentHistory", &j.PaymentHistory)
	if r.err != nil {
		return schema.Job{}, r.err
	}
	j.SetDefaults()
	return j, nil
}

// DecodeAudit converts a remote row into an audit entry.
func DecodeAudit(row Row) (schema.AuditEntry, error) {
	r := newRowReader(TableAudit, row)
	if r.err != nil {
		return schema.AuditEntry{}, r.err
	}
	e := schema.AuditEntry{
		ID:        r.id,
		JobID:     r.str("jobId"),
		Action:    schema.AuditAction(r.str("action")),
		Timestamp: r.stamp("timestamp"),
		Summary:   r.str("summary"),
		ClientID:  r.str("clientId"),
	}
	if r.err != nil {
		return schema.AuditEntry{}, r.err
	}
	if e.Action == "" {
		e.Action = schema.AuditJobUpdated
	}
	return e, nil
}

// DecodeQuery converts a remote row into a query.
func DecodeQuery(row Row) (schema.Query, error) {
	r := newRowReader(TableQueries, row)
	if r.err != nil {
		return schema.Query{}, r.err
	}
	q := schema.Query{
		Record:       r.record(),
		CustomerName: r.str("customerName"),
		PhoneNumber:  r.str("phoneNumber"),
		Description:  r.str("description"),
		Date:         r.str("date"),
	}
	r.into("items", &q.Items)
	if r.err != nil {
		return schema.Query{}, r.err
	}
	if q.Items == nil {
		q.Items = []schema.QueryItem{}
	}
	return q, nil
}

// DecodeBooking converts a remote row into a booking.
func DecodeBooking(row Row) (schema.Booking, error) {
	r := newRowReader(TableBookings, row)
	if r.err != nil {
		return schema.Booking{}, r.err
	}
	b := schema.Booking{
		Record:       r.record(),
		CustomerName: r.str("customerName"),
		PhoneNumber:  r.str("phoneNumber"),
		CarMake:      r.str("carMake"),
		CarModel:     r.str("carModel"),
		CarOther:     r.str("carOther"),
		QuoteNumber:  r.str("quoteNumber"),
		Date:         r.str("date"),
		Time:         r.str("time"),
		Notes:        r.str("notes"),
		Status:       schema.BookingStatus(r.str("status")),
	}
	if b.QuoteNumber == "" {
		// Older stations stored the quote as a bare number column.
		b.QuoteNumber = r.str("quote")
		if b.QuoteNumber == "0" {
			b.QuoteNumber = ""
		}
	}
	if r.err != nil {
		return schema.Booking{}, r.err
	}
	if b.Status == "" {
		b.Status = schema.BookingConfirmed
	}
	return b, nil
}

type jobRow struct {
	ID                    string               `json:"id"`
	Category              string               `json:"category"`
	CustomerName          string               `json:"customer_name"`
	PhoneNumber           string               `json:"phone_number"`
	Address               string               `json:"address"`
	InvoiceNumber         *string              `json:"invoice_number"`
	QuoteNumber           *string              `json:"quote_number"`
	Importance            string               `json:"importance"`
	Description           string               `json:"description"`
	Date                  string               `json:"date"`
	EstimatedDispatchDate *string              `json:"estimated_dispatch_date"`
	Items                 []schema.JobItem     `json:"items"`
	Status                string               `json:"status"`
	Measurements          []schema.Measurement `json:"measurements"`
	Attachments           []schema.Attachment  `json:"attachments"`
	TotalPaid             *float64             `json:"total_paid"`
	PaymentHistory        []schema.Payment     `json:"payment_history"`
	UpdatedAt             *string              `json:"updated_at"`
	CompletedAt           *string              `json:"completed_at"`
	IsDeleted             bool                 `json:"is_deleted"`
	DeletedAt             *string              `json:"deleted_at"`
	IsArchived            bool                 `json:"is_archived"`
	ArchivedAt            *string              `json:"archived_at"`
}

type auditRow struct {
	ID        string  `json:"id"`
	JobID     *string `json:"job_id"`
	Action    string  `json:"action"`
	Timestamp *string `json:"timestamp"`
	Summary   string  `json:"summary"`
	ClientID  string  `json:"client_id"`
}

type queryRow struct {
	ID           string             `json:"id"`
	CustomerName string             `json:"customer_name"`
	PhoneNumber  string             `json:"phone_number"`
	Description  string             `json:"description"`
	Items        []schema.QueryItem `json:"items"`
	Date         string             `json:"date"`
	UpdatedAt    *string            `json:"updated_at"`
	IsDeleted    bool               `json:"is_deleted"`
	DeletedAt    *string            `json:"deleted_at"`
}

type bookingRow struct {
	ID           string  `json:"id"`
	CustomerName string  `json:"customer_name"`
	PhoneNumber  string  `json:"phone_number"`
	CarMake      string  `json:"car_make"`
	CarModel     string  `json:"car_model"`
	CarOther     *string `json:"car_other"`
	QuoteNumber  *string `json:"quote_number"`
	Date         string  `json:"date"`
	Time         *string `json:"time"`
	Notes        *string `json:"notes"`
	Status       string  `json:"status"`
	UpdatedAt    *string `json:"updated_at"`
	IsDeleted    bool    `json:"is_deleted"`
	DeletedAt    *string `json:"deleted_at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeJob(j schema.Job) jobRow {
	items := j.Items
	if items == nil {
		items = []schema.JobItem{}
	}
	var paid *float64
	if j.TotalPaid != 0 || len(j.PaymentHistory) > 0 {
		v := j.TotalPaid
		paid = &v
	}
	return jobRow{
		ID:                    j.ID,
		Category:              string(j.Category),
		CustomerName:          j.CustomerName,
		PhoneNumber:           j.PhoneNumber,
		Address:               j.Address,
		InvoiceNumber:         optional(j.InvoiceNumber),
		QuoteNumber:           optional(j.QuoteNumber),
		Importance:            string(j.Importance),
		Description:           j.Description,
		Date:                  j.Date,
		EstimatedDispatchDate: optional(j.EstimatedDispatchDate),
		Items:                 items,
		Status:                string(j.Status),
		Measurements:          j.Measurements,
		Attachments:           j.Attachments,
		TotalPaid:             paid,
		PaymentHistory:        j.PaymentHistory,
		UpdatedAt:             j.UpdatedAt.Ptr(),
		CompletedAt:           j.CompletedAt.Ptr(),
		IsDeleted:             j.IsDeleted,
		DeletedAt:             j.DeletedAt.Ptr(),
		IsArchived:            j.IsArchived,
		ArchivedAt:            j.ArchivedAt.Ptr(),
	}
}

// encodeAudit fills client_id with clientID when the entry has none.
func encodeAudit(e schema.AuditEntry, clientID string) auditRow {
	owner := e.ClientID
	if owner == "" {
		owner = clientID
	}
	return auditRow{
		ID:        e.ID,
		JobID:     optional(e.JobID),
		Action:    string(e.Action),
		Timestamp: e.Timestamp.Ptr(),
		Summary:   e.Summary,
		ClientID:  owner,
	}
}

func encodeQuery(q schema.Query) queryRow {
	items := q.Items
	if items == nil {
		items = []schema.QueryItem{}
	}
	return queryRow{
		ID:           q.ID,
		CustomerName: q.CustomerName,
		PhoneNumber:  q.PhoneNumber,
		Description:  q.Description,
		Items:        items,
		Date:         q.Date,
		UpdatedAt:    q.UpdatedAt.Ptr(),
		IsDeleted:    q.IsDeleted,
		DeletedAt:    q.DeletedAt.Ptr(),
	}
}

func encodeBooking(b schema.Booking) bookingRow {
	status := b.Status
	if status == "" {
		status = schema.BookingConfirmed
	}
	return bookingRow{
		ID:           b.ID,
		CustomerName: b.CustomerName,
		PhoneNumber:  b.PhoneNumber,
		CarMake:      b.CarMake,
		CarModel:     b.CarModel,
		CarOther:     optional(b.CarOther),
		QuoteNumber:  optional(b.QuoteNumber),
		Date:         b.Date,
		Time:         optional(b.Time),
		Notes:        optional(b.Notes),
		Status:       string(status),
		UpdatedAt:    b.UpdatedAt.Ptr(),
		IsDeleted:    b.IsDeleted,
		DeletedAt:    b.DeletedAt.Ptr(),
	}
}

func encodeAll[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
