package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

var queriesCmd = &cobra.Command{
	Use:     "queries",
	Aliases: []string{"query"},
	GroupID: "records",
	Short:   "Log customer phone queries and turn them into jobs",
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged queries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		return withApp(cmd, func(a *app) error {
			var rows [][]string
			for _, q := range a.store.State().Queries.Queries {
				if q.IsDeleted && !all {
					continue
				}
				desc := q.Description
				if q.IsDeleted {
					desc += " (deleted)"
				}
				rows = append(rows, []string{q.ID, q.Date, q.CustomerName, q.PhoneNumber, desc, fmt.Sprint(len(q.Items))})
			}
			if len(rows) == 0 {
				a.out.Muted("No queries.")
				return nil
			}
			a.out.Table([]string{"ID", "Date", "Customer", "Phone", "Description", "Items"}, rows)
			return nil
		})
	},
}

var queriesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Log a customer query",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var in queryInput
		in.Customer, _ = f.GetString("customer")
		in.Phone, _ = f.GetString("phone")
		in.Description, _ = f.GetString("description")
		itemFlags, _ := f.GetStringArray("item")
		in.Items = strings.Join(itemFlags, "\n")

		missing := strings.TrimSpace(in.Customer) == "" || strings.TrimSpace(in.Phone) == ""
		if interactive(cmd, missing) {
			if err := promptQuery(&in); err != nil {
				return err
			}
		}

		return withApp(cmd, func(a *app) error {
			q := schema.Query{
				Record:       schema.Record{ID: a.store.NextQueryID()},
				CustomerName: strings.TrimSpace(in.Customer),
				PhoneNumber:  strings.TrimSpace(in.Phone),
				Description:  strings.TrimSpace(in.Description),
				Date:         time.Now().Format("2006-01-02"),
			}
			for _, item := range lines(in.Items) {
				q.Items = append(q.Items, schema.QueryItem{Description: item})
			}
			q.SetDefaults()
			if err := q.Validate(); err != nil {
				return err
			}
			a.store.Dispatch(store.AddQuery{Query: q})
			a.out.Success("Logged query %s from %s", q.ID, q.CustomerName)
			return a.changed(cmd.Context())
		})
	},
}

var queriesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			q, ok := a.store.State().FindQuery(args[0])
			if !ok || q.IsDeleted {
				return fmt.Errorf("query %s not found", args[0])
			}
			a.store.Dispatch(store.DeleteQuery{ID: args[0]})
			a.out.Success("Deleted query %s", args[0])
			return a.changed(cmd.Context())
		})
	},
}

var queriesConvertCmd = &cobra.Command{
	Use:   "convert <id>",
	Short: "Turn a query into a job",
	Long: `Turn a query into a job. The job takes the query's customer, phone,
description and items (unpriced); the query is then deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		categoryFlag, _ := cmd.Flags().GetString("category")
		category, err := schema.ParseCategory(categoryFlag)
		if err != nil {
			return err
		}

		return withApp(cmd, func(a *app) error {
			job, err := store.ConvertQuery(a.store.State(), args[0], a.store.NextJobID(), category, a.store.Now())
			if err != nil {
				return err
			}
			a.store.Dispatch(store.AddJob{Job: job})
			a.store.Dispatch(store.DeleteQuery{ID: args[0]})
			a.out.Success("Query %s is now job %s", args[0], job.ID)
			return a.changed(cmd.Context())
		})
	},
}

func init() {
	queriesListCmd.Flags().BoolP("all", "a", false, "Include deleted queries")

	f := queriesAddCmd.Flags()
	f.String("customer", "", "Customer name")
	f.String("phone", "", "Phone number")
	f.StringP("description", "d", "", `Description (default "Phone query")`)
	f.StringArray("item", nil, "Work asked about (repeatable)")
	f.BoolP("interactive", "i", false, "Fill in the query with a form (default when details are missing on a terminal)")

	queriesConvertCmd.Flags().StringP("category", "c", string(schema.CategoryRepair), "Category of the new job")

	queriesCmd.AddCommand(queriesListCmd, queriesAddCmd, queriesDeleteCmd, queriesConvertCmd)
	rootCmd.AddCommand(queriesCmd)
}
