package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/logging"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/loadtest"
)

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	GroupID: "advanced",
	Short:   "Simulate several stations editing through a shared in-memory remote",
	Long: `Run several stations, each with its own store, SQLite cache and sync
engine, against one in-memory remote. Every station makes random edits at
the same time; the run then waits for all stations to hold the same data and
reports how long new jobs took to reach the other stations.

Nothing touches the profile's data or the configured remote.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		dir, _ := f.GetString("dir")
		keep := dir != ""
		if dir == "" {
			tmp, err := os.MkdirTemp("", "diffking-simulate-*")
			if err != nil {
				return fmt.Errorf("failed to create simulation directory: %w", err)
			}
			dir = tmp
		}

		opts := loadtest.DefaultOptions(dir)
		opts.Stations, _ = f.GetInt("stations")
		opts.EditsPerStation, _ = f.GetInt("edits")
		opts.EditInterval, _ = f.GetDuration("interval")
		opts.PushDebounce, _ = f.GetDuration("debounce")
		opts.SettleTimeout, _ = f.GetDuration("timeout")
		opts.Seed, _ = f.GetInt64("seed")

		verbose, _ := cmd.Flags().GetBool("verbose")
		logs, err := logging.New(logging.Options{Verbose: verbose})
		if err != nil {
			return err
		}
		defer logs.Close()
		opts.Logger = logs.Logger("simulate")

		sim, err := loadtest.NewSimulation(opts)
		if err != nil {
			return err
		}
		report, runErr := sim.Run(cmd.Context())
		if err := sim.Close(); err != nil && runErr == nil {
			runErr = err
		}
		if !keep {
			_ = os.RemoveAll(dir)
		}
		if runErr != nil {
			return runErr
		}

		report.Print(cmd.OutOrStdout())
		if !report.Converged {
			return fmt.Errorf("stations did not converge within %s", opts.SettleTimeout)
		}
		return nil
	},
}

func init() {
	defaults := loadtest.DefaultOptions("")
	f := simulateCmd.Flags()
	f.Int("stations", defaults.Stations, "Number of stations")
	f.Int("edits", defaults.EditsPerStation, "Edits per station")
	f.Duration("interval", defaults.EditInterval, "Pause between edits on one station")
	f.Duration("debounce", defaults.PushDebounce, "Push debounce for every station")
	f.Duration("timeout", defaults.SettleTimeout, "How long to wait for the stations to agree")
	f.Int64("seed", defaults.Seed, "Random seed")
	f.String("dir", "", "Keep station caches in this directory (default: a temporary directory)")

	rootCmd.AddCommand(simulateCmd)
}
