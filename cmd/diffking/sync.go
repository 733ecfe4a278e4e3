package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/retention"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull from and push to the remote once",
	Long: `Pull every table from the remote, merge it with the local data (newest
updatedAt wins per record), then push the merged result. Use "sync pull" or
"sync push" for one direction only. "run" keeps syncing continuously.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, true, true)
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch the remote tables and merge them into local data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, true, false)
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload local data to the remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, false, true)
	},
}

func runSync(cmd *cobra.Command, pull, push bool) error {
	return withApp(cmd, func(a *app) error {
		before := a.store.State().Count()
		if err := a.syncOnce(cmd.Context(), pull, push); err != nil {
			return err
		}
		after := a.store.State().Count()

		var done []string
		if pull {
			done = append(done, "pulled")
		}
		if push {
			done = append(done, "pushed")
		}
		a.out.Success("Sync %s", strings.Join(done, " and "))
		if after != before {
			a.out.Field("Jobs", after.Jobs)
			a.out.Field("Queries", after.Queries)
			a.out.Field("Bookings", after.Bookings)
		}
		return nil
	})
}

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	GroupID: "sync",
	Short:   "Archive jobs past the retention window",
	Long: `Archive jobs that were deleted, or completed and fully paid, longer ago
than the retention window (retention.window, 60 days by default). Archived
jobs leave the board but are kept and still sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		return withApp(cmd, func(a *app) error {
			sweeper := retention.New(a.cfg.Retention.Window, a.logger("retention"))
			if dryRun {
				ids := retention.Candidates(a.store.State().Jobs.Jobs, sweeper.Now(), sweeper.Window)
				if len(ids) == 0 {
					a.out.Muted("No jobs are due for archiving.")
					return nil
				}
				a.out.Title("Would archive:")
				for _, id := range ids {
					a.out.Field("Job", id)
				}
				return nil
			}

			ids := sweeper.Sweep(a.store)
			if len(ids) == 0 {
				a.out.Muted("No jobs are due for archiving.")
				return nil
			}
			a.out.Success("Archived %d jobs: %s", len(ids), strings.Join(ids, ", "))
			return a.changed(cmd.Context())
		})
	},
}

func init() {
	sweepCmd.Flags().Bool("dry-run", false, "List the jobs that would be archived without archiving them")

	syncCmd.AddCommand(syncPullCmd, syncPushCmd)
	rootCmd.AddCommand(syncCmd, sweepCmd)
}
