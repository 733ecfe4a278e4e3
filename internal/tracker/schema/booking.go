package schema

import (
	"fmt"
	"strings"
)

// BookingStatus tracks whether a booked vehicle turned up.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingNoShow    BookingStatus = "no-show"
	BookingCancelled BookingStatus = "cancelled"
)

// ParseBookingStatus matches s against the known booking statuses.
func ParseBookingStatus(s string) (BookingStatus, error) {
	v := BookingStatus(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case BookingConfirmed, BookingCompleted, BookingNoShow, BookingCancelled:
		return v, nil
	case "noshow", "no show":
		return BookingNoShow, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Booking is a calendar slot for a customer's vehicle.
type Booking struct {
	Record `yaml:",inline"`

	CustomerName string        `json:"customerName" yaml:"customerName"`
	PhoneNumber  string        `json:"phoneNumber" yaml:"phoneNumber"`
	CarMake      string        `json:"carMake" yaml:"carMake"`
	CarModel     string        `json:"carModel" yaml:"carModel"`
	CarOther     string        `json:"carOther,omitempty" yaml:"carOther,omitempty"`
	QuoteNumber  string        `json:"quoteNumber,omitempty" yaml:"quoteNumber,omitempty"`
	Date         string        `json:"date" yaml:"date"`
	Time         string        `json:"time,omitempty" yaml:"time,omitempty"`
	Notes        string        `json:"notes,omitempty" yaml:"notes,omitempty"`
	Status       BookingStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// Vehicle renders make, model and extra detail as one label.
func (b Booking) Vehicle() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.CarMake, b.CarModel, b.CarOther} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Validate checks the fields a booking requires.
func (b Booking) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("booking id is required")
	}
	if strings.TrimSpace(b.CustomerName) == "" {
		return fmt.Errorf("customer name is required")
	}
	if strings.TrimSpace(b.Date) == "" {
		return fmt.Errorf("booking date is required")
	}
	return nil
}
