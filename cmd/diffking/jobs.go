package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/persist"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	GroupID: "records",
	Short:   "List and change jobs on the workshop board",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		statusFlag, _ := cmd.Flags().GetString("status")
		search, _ := cmd.Flags().GetString("search")
		unpaid, _ := cmd.Flags().GetBool("unpaid")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := persist.JobFilter{
			Search:          search,
			IncludeDeleted:  all,
			IncludeArchived: all,
			Unpaid:          unpaid,
			Limit:           limit,
		}
		if statusFlag != "" {
			st, err := schema.ParseStatus(statusFlag)
			if err != nil {
				return err
			}
			filter.Status = st
		}

		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()
			// The index may predate a state restored from jobs.json.
			if err := a.cache.IndexJobs(ctx, a.store.State().Jobs.Jobs); err != nil {
				return err
			}
			jobs, err := a.cache.ListJobs(ctx, filter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				a.out.Muted("No jobs.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID,
					j.CustomerName,
					string(j.Category),
					jobState(j),
					string(j.Importance),
					money(j.Total),
					money(j.Paid),
					j.UpdatedAt.Time.Local().Format("2006-01-02 15:04"),
				})
			}
			a.out.Table([]string{"ID", "Customer", "Category", "Status", "Importance", "Total", "Paid", "Updated"}, rows)
			return nil
		})
	},
}

func jobState(j persist.JobSummary) string {
	switch {
	case j.IsArchived:
		return "archived"
	case j.IsDeleted:
		return "deleted"
	}
	return string(j.Status)
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			j, ok := a.store.State().FindJob(args[0])
			if !ok {
				return fmt.Errorf("job %s not found", args[0])
			}
			a.out.Title(fmt.Sprintf("Job %s", j.ID))
			a.out.Field("Customer", j.CustomerName)
			a.out.Field("Phone", j.PhoneNumber)
			a.out.Field("Category", j.Category)
			a.out.Field("Status", j.Status)
			a.out.Field("Importance", j.Importance)
			if j.Description != "" {
				a.out.Field("Description", j.Description)
			}
			for _, item := range j.Items {
				a.out.Field("Item", fmt.Sprintf("%s %s", item.Description, money(item.Price)))
			}
			a.out.Field("Total", money(j.TotalPrice()))
			a.out.Field("Paid", money(j.TotalPaid))
			a.out.Field("Balance", money(j.Balance()))
			a.out.Field("Updated", j.UpdatedAt)
			if !j.CompletedAt.IsZero() {
				a.out.Field("Completed", j.CompletedAt)
			}
			if j.IsDeleted {
				a.out.Field("Deleted", j.DeletedAt)
			}
			if j.IsArchived {
				a.out.Field("Archived", j.ArchivedAt)
			}
			return nil
		})
	},
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var in jobInput
		in.Customer, _ = f.GetString("customer")
		in.Phone, _ = f.GetString("phone")
		in.Address, _ = f.GetString("address")
		in.Category, _ = f.GetString("category")
		in.Importance, _ = f.GetString("importance")
		in.Description, _ = f.GetString("description")
		itemFlags, _ := f.GetStringArray("item")
		in.Items = strings.Join(itemFlags, "\n")
		invoice, _ := f.GetString("invoice")
		quote, _ := f.GetString("quote")

		if interactive(cmd, strings.TrimSpace(in.Customer) == "") {
			if err := promptJob(&in); err != nil {
				return err
			}
		}

		category, err := schema.ParseCategory(in.Category)
		if err != nil {
			return err
		}
		importance, err := schema.ParseImportance(in.Importance)
		if err != nil {
			return err
		}
		items, err := parseItems(lines(in.Items))
		if err != nil {
			return err
		}

		return withApp(cmd, func(a *app) error {
			job := schema.Job{
				Record:        schema.Record{ID: a.store.NextJobID()},
				Category:      category,
				CustomerName:  strings.TrimSpace(in.Customer),
				PhoneNumber:   strings.TrimSpace(in.Phone),
				Address:       strings.TrimSpace(in.Address),
				InvoiceNumber: invoice,
				QuoteNumber:   quote,
				Importance:    importance,
				Description:   strings.TrimSpace(in.Description),
				Date:          time.Now().Format("2006-01-02"),
				Items:         items,
				Status:        schema.StatusNotStarted,
			}
			if err := job.Validate(); err != nil {
				return err
			}
			a.store.Dispatch(store.AddJob{Job: job})
			a.out.Success("Added job %s for %s", job.ID, job.CustomerName)
			return a.changed(cmd.Context())
		})
	},
}

// parseItems reads "description=price" pairs. A missing price is 0.
func parseItems(flags []string) ([]schema.JobItem, error) {
	items := make([]schema.JobItem, 0, len(flags))
	for _, f := range flags {
		desc, priceText, _ := strings.Cut(f, "=")
		item := schema.JobItem{Description: strings.TrimSpace(desc)}
		if strings.TrimSpace(priceText) != "" {
			price, err := strconv.ParseFloat(strings.TrimSpace(priceText), 64)
			if err != nil || price < 0 {
				return nil, fmt.Errorf("invalid price in item %q", f)
			}
			item.Price = price
		}
		items = append(items, item)
	}
	return items, nil
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move a job to another status",
	Long: `Move a job to another status. Statuses: not started, in progress,
awaiting parts, powdercoaters, complete. Dashes may replace spaces.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := schema.ParseStatus(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			if err := requireJob(a, args[0]); err != nil {
				return err
			}
			a.store.Dispatch(store.UpdateJobStatus{ID: args[0], Status: status})
			a.out.Success("Job %s is now %s", args[0], status)
			return a.changed(cmd.Context())
		})
	},
}

var jobsPayCmd = &cobra.Command{
	Use:   "pay <id> <amount>",
	Short: "Record a payment against a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("invalid amount %q", args[1])
		}
		date, _ := cmd.Flags().GetString("date")

		return withApp(cmd, func(a *app) error {
			if err := requireJob(a, args[0]); err != nil {
				return err
			}
			a.store.Dispatch(store.RecordPayment{ID: args[0], Amount: amount, Date: date})
			j, _ := a.store.State().FindJob(args[0])
			a.out.Success("Recorded %s on job %s (balance %s)", money(amount), j.ID, money(j.Balance()))
			return a.changed(cmd.Context())
		})
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a job; it can be restored until it is archived",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := requireJob(a, args[0]); err != nil {
				return err
			}
			a.store.Dispatch(store.DeleteJob{ID: args[0]})
			a.out.Success("Deleted job %s", args[0])
			return a.changed(cmd.Context())
		})
	},
}

var jobsRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a deleted or archived job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := requireJob(a, args[0]); err != nil {
				return err
			}
			a.store.Dispatch(store.RestoreJob{ID: args[0]})
			a.out.Success("Restored job %s", args[0])
			return a.changed(cmd.Context())
		})
	},
}

func requireJob(a *app, id string) error {
	if _, ok := a.store.State().FindJob(id); !ok {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "records",
	Short:   "Show the job audit log, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		job, _ := cmd.Flags().GetString("job")

		return withApp(cmd, func(a *app) error {
			var rows [][]string
			for _, e := range a.store.State().Jobs.Audit {
				if job != "" && e.JobID != job {
					continue
				}
				rows = append(rows, []string{
					e.Timestamp.Time.Local().Format("2006-01-02 15:04:05"),
					string(e.Action),
					e.JobID,
					e.Summary,
				})
				if limit > 0 && len(rows) == limit {
					break
				}
			}
			if len(rows) == 0 {
				a.out.Muted("No audit entries.")
				return nil
			}
			a.out.Table([]string{"When", "Action", "Job", "Summary"}, rows)
			return nil
		})
	},
}

func init() {
	jobsListCmd.Flags().BoolP("all", "a", false, "Include deleted and archived jobs")
	jobsListCmd.Flags().String("status", "", "Only jobs with this status")
	jobsListCmd.Flags().StringP("search", "s", "", "Match customer name, phone or id")
	jobsListCmd.Flags().Bool("unpaid", false, "Only jobs with a balance owing")
	jobsListCmd.Flags().IntP("limit", "n", 0, "Maximum number of jobs (0 for all)")

	f := jobsAddCmd.Flags()
	f.String("customer", "", "Customer name")
	f.String("phone", "", "Phone number")
	f.String("address", "", "Address")
	f.StringP("category", "c", string(schema.CategoryRepair), "Repair, Fabrication or Dispatch")
	f.String("importance", string(schema.ImportanceMedium), "Low, Medium, High or Urgent")
	f.StringP("description", "d", "", "Job description")
	f.StringArray("item", nil, `Line item as "description=price" (repeatable)`)
	f.String("invoice", "", "Invoice number")
	f.String("quote", "", "Quote number")
	f.BoolP("interactive", "i", false, "Fill in the job with a form (default when --customer is missing on a terminal)")

	jobsPayCmd.Flags().String("date", "", "Payment date as YYYY-MM-DD (default: today)")

	auditCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries (0 for all)")
	auditCmd.Flags().String("job", "", "Only entries for this job")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsAddCmd, jobsStatusCmd, jobsPayCmd, jobsDeleteCmd, jobsRestoreCmd)
	rootCmd.AddCommand(jobsCmd, auditCmd)
}
