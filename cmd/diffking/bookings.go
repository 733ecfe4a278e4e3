package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

var bookingsCmd = &cobra.Command{
	Use:     "bookings",
	Aliases: []string{"booking"},
	GroupID: "records",
	Short:   "Manage the vehicle booking calendar",
}

var bookingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookings by date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		from, _ := cmd.Flags().GetString("from")

		return withApp(cmd, func(a *app) error {
			bookings := make([]schema.Booking, 0, len(a.store.State().Bookings.Bookings))
			for _, b := range a.store.State().Bookings.Bookings {
				if b.IsDeleted && !all {
					continue
				}
				if from != "" && b.Date < from {
					continue
				}
				bookings = append(bookings, b)
			}
			sortBookings(bookings)

			if len(bookings) == 0 {
				a.out.Muted("No bookings.")
				return nil
			}
			rows := make([][]string, 0, len(bookings))
			for _, b := range bookings {
				status := string(b.Status)
				if b.IsDeleted {
					status = "deleted"
				}
				rows = append(rows, []string{b.ID, b.Date, b.Time, b.CustomerName, b.PhoneNumber, b.Vehicle(), status})
			}
			a.out.Table([]string{"ID", "Date", "Time", "Customer", "Phone", "Vehicle", "Status"}, rows)
			return nil
		})
	},
}

// sortBookings orders by date then time; dates are YYYY-MM-DD so string
// order is calendar order.
func sortBookings(bookings []schema.Booking) {
	slices.SortStableFunc(bookings, func(a, b schema.Booking) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Time, b.Time)
	})
}

var bookingsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Book a vehicle in",
	Long: `Book a vehicle in. --when takes a date (2026-03-14) or a phrase such as
"next friday at 9am" or "tomorrow 2pm"; a time in the phrase fills --time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		customer, _ := f.GetString("customer")
		phone, _ := f.GetString("phone")
		carMake, _ := f.GetString("make")
		model, _ := f.GetString("model")
		other, _ := f.GetString("other")
		quote, _ := f.GetString("quote")
		notes, _ := f.GetString("notes")
		whenText, _ := f.GetString("when")
		clock, _ := f.GetString("time")

		date, parsedClock, err := parseWhen(whenText, time.Now())
		if err != nil {
			return err
		}
		if clock == "" {
			clock = parsedClock
		}

		return withApp(cmd, func(a *app) error {
			b := schema.Booking{
				Record:       schema.Record{ID: a.store.NextBookingID()},
				CustomerName: customer,
				PhoneNumber:  phone,
				CarMake:      carMake,
				CarModel:     model,
				CarOther:     other,
				QuoteNumber:  quote,
				Date:         date,
				Time:         clock,
				Notes:        notes,
				Status:       schema.BookingConfirmed,
			}
			if err := b.Validate(); err != nil {
				return err
			}
			a.store.Dispatch(store.AddBooking{Booking: b})
			slot := b.Date
			if b.Time != "" {
				slot += " " + b.Time
			}
			a.out.Success("Booked %s in for %s (booking %s)", b.CustomerName, slot, b.ID)
			return a.changed(cmd.Context())
		})
	},
}

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen turns a date or phrase into a YYYY-MM-DD date and, when the
// phrase names a time of day, an HH:MM clock.
func parseWhen(text string, now time.Time) (string, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", fmt.Errorf("a booking date is required (--when)")
	}
	if d, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return d.Format("2006-01-02"), "", nil
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	r, err := whenParser.Parse(text, midnight)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return "", "", fmt.Errorf("could not understand date %q", text)
	}

	var clock string
	if r.Time.Hour() != 0 || r.Time.Minute() != 0 {
		clock = r.Time.Format("15:04")
	}
	return r.Time.Format("2006-01-02"), clock, nil
}

var bookingsStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Mark a booking confirmed, completed, no-show or cancelled",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := schema.ParseBookingStatus(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			b, ok := a.store.State().FindBooking(args[0])
			if !ok || b.IsDeleted {
				return fmt.Errorf("booking %s not found", args[0])
			}
			b.Status = status
			a.store.Dispatch(store.UpdateBooking{Booking: b})
			a.out.Success("Booking %s is now %s", b.ID, status)
			return a.changed(cmd.Context())
		})
	},
}

var bookingsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			b, ok := a.store.State().FindBooking(args[0])
			if !ok || b.IsDeleted {
				return fmt.Errorf("booking %s not found", args[0])
			}
			a.store.Dispatch(store.DeleteBooking{ID: args[0]})
			a.out.Success("Deleted booking %s", args[0])
			return a.changed(cmd.Context())
		})
	},
}

func init() {
	bookingsListCmd.Flags().BoolP("all", "a", false, "Include deleted bookings")
	bookingsListCmd.Flags().String("from", "", "Only bookings on or after this date (YYYY-MM-DD)")

	f := bookingsAddCmd.Flags()
	f.String("customer", "", "Customer name")
	f.String("phone", "", "Phone number")
	f.String("make", "", "Car make")
	f.String("model", "", "Car model")
	f.String("other", "", "Other vehicle detail")
	f.String("quote", "", "Quote number")
	f.String("notes", "", "Notes")
	f.StringP("when", "w", "", `Date or phrase, e.g. "next friday 9am"`)
	f.String("time", "", "Time of day (HH:MM)")
	_ = bookingsAddCmd.MarkFlagRequired("customer")
	_ = bookingsAddCmd.MarkFlagRequired("when")

	bookingsCmd.AddCommand(bookingsListCmd, bookingsAddCmd, bookingsStatusCmd, bookingsDeleteCmd)
	rootCmd.AddCommand(bookingsCmd)
}
