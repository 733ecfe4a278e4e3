package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/importer"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "records",
	Short:   "Replace collections from an exported or hand-written file",
	Long: `Replace collections from a file. JSON and YAML files may hold the whole
state ({"jobs": {...}, "queries": {...}, "bookings": {...}}) or a single
collection; a bare array is read as the collection named by the file
(jobs.json, queries.yaml, bookings.jsonl). JSONL holds one record per line.

Every collection the file mentions is replaced; the others are untouched.
Replaced records sync to the remote like any other change.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := importer.ReadFile(args[0])
		if err != nil {
			return err
		}
		if bundle.Empty() {
			return fmt.Errorf("%s: %w", args[0], importer.ErrEmpty)
		}

		return withApp(cmd, func(a *app) error {
			result := importer.Apply(a.store, bundle)
			a.out.Success("Imported %s", result)
			return a.changed(cmd.Context())
		})
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "records",
	Short:   "Write the station's data to a file or stdout",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")

		var format importer.Format
		var err error
		switch {
		case formatFlag != "":
			format, err = importer.ParseFormat(formatFlag)
		case len(args) == 1:
			format, err = importer.FormatFromPath(args[0])
		default:
			format = importer.FormatJSON
		}
		if err != nil {
			return err
		}

		return withApp(cmd, func(a *app) error {
			state := a.store.State()
			if len(args) == 0 {
				data, err := importer.Export(state, format)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if _, err := os.Stat(args[0]); err == nil {
				force, _ := cmd.Flags().GetBool("force")
				if !force {
					return fmt.Errorf("%s already exists (use --force to overwrite)", args[0])
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := importer.WriteFile(args[0], state, format); err != nil {
				return err
			}
			c := state.Count()
			a.out.Success("Exported %d jobs, %d queries and %d bookings to %s", c.Jobs, c.Queries, c.Bookings, args[0])
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "json, jsonl or yaml (default: from the file extension, else json)")
	exportCmd.Flags().Bool("force", false, "Overwrite an existing file")

	rootCmd.AddCommand(importCmd, exportCmd)
}
