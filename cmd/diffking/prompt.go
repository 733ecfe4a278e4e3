package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/ui"
)

// jobInput is what jobs add collects from flags or the form.
type jobInput struct {
	Customer    string
	Phone       string
	Address     string
	Category    string
	Importance  string
	Description string
	Items       string
}

// queryInput is what queries add collects from flags or the form.
type queryInput struct {
	Customer    string
	Phone       string
	Description string
	Items       string
}

// interactive reports whether cmd should prompt: either -i was given or a
// required field is missing and stdin is a terminal.
func interactive(cmd *cobra.Command, missing bool) bool {
	if on, _ := cmd.Flags().GetBool("interactive"); on {
		return true
	}
	return missing && ui.IsTerminal(os.Stdin)
}

func required(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

// promptJob fills in a job with a form. Values already set are the
// defaults. Items are one "description=price" per line.
func promptJob(in *jobInput) error {
	categories := make([]huh.Option[string], 0, len(schema.Categories))
	for _, c := range schema.Categories {
		categories = append(categories, huh.NewOption(string(c), string(c)))
	}
	if c, err := schema.ParseCategory(in.Category); err == nil {
		in.Category = string(c)
	}
	if i, err := schema.ParseImportance(in.Importance); err == nil {
		in.Importance = string(i)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Customer name").Value(&in.Customer).Validate(required("customer name")),
			huh.NewInput().Title("Phone number").Value(&in.Phone),
			huh.NewInput().Title("Address").Value(&in.Address),
		),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Category").Options(categories...).Value(&in.Category),
			huh.NewSelect[string]().Title("Importance").
				Options(huh.NewOptions(
					string(schema.ImportanceLow),
					string(schema.ImportanceMedium),
					string(schema.ImportanceHigh),
					string(schema.ImportanceUrgent),
				)...).
				Value(&in.Importance),
			huh.NewText().Title("Description").Value(&in.Description),
			huh.NewText().Title("Items").Description("One per line as description=price").Value(&in.Items),
		),
	)
	return runForm(form)
}

// promptQuery fills in a query with a form.
func promptQuery(in *queryInput) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Customer name").Value(&in.Customer).Validate(required("customer name")),
			huh.NewInput().Title("Phone number").Value(&in.Phone).Validate(required("phone number")),
			huh.NewText().Title("What did they ask about?").Value(&in.Description),
			huh.NewText().Title("Items").Description("One per line").Value(&in.Items),
		),
	)
	return runForm(form)
}

func runForm(form *huh.Form) error {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("cancelled")
		}
		return err
	}
	return nil
}

// lines splits a multi-line form field, dropping blank lines.
func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
