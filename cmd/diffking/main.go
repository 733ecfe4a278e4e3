// Command diffking runs and manages a Diff King job tracker station.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	configFile string
	syncAfter  bool
)

var rootCmd = &cobra.Command{
	Use:   "diffking",
	Short: "Local-first job tracker for the Diff King workshop",
	Long: `diffking keeps the workshop's jobs, customer queries and bookings on this
station and, when a remote is configured, in sync with every other station.

Data lives in a per-profile directory (see --profile and --data-dir). Changes
are written to a SQLite cache at once and to jobs.json shortly after.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("profile", "default", "Profile name; each profile has its own data directory")
	flags.String("data-dir", "", "Data directory (overrides the profile directory)")
	flags.StringVar(&configFile, "config", "", "Config file (default: <data-dir>/config.toml)")
	flags.BoolP("verbose", "v", false, "Log component activity to stderr")
	flags.BoolVar(&syncAfter, "sync", false, "After a change, pull from and push to the remote before exiting")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
