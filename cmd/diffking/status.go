package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/persist"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// StatusOutput is the --json form of the status command.
type StatusOutput struct {
	Profile          string         `json:"profile"`
	DataDir          string         `json:"data_dir"`
	ConfigFile       string         `json:"config_file,omitempty"`
	ClientID         string         `json:"client_id"`
	Station          string         `json:"station"`
	LoadedFrom       string         `json:"loaded_from"`
	RemoteConfigured bool           `json:"remote_configured"`
	RemoteDriver     string         `json:"remote_driver,omitempty"`
	LastAuditID      string         `json:"last_audit_id,omitempty"`
	LastPushAt       string         `json:"last_push_at,omitempty"`
	LastSync         *daemon.Status `json:"last_sync,omitempty"`
	Counts           schema.Counts  `json:"counts"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the station, its data and the last sync result",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()
			out := StatusOutput{
				Profile:          a.cfg.Profile,
				DataDir:          a.cfg.DataDir,
				ConfigFile:       a.cfg.File,
				ClientID:         a.station.ClientID,
				Station:          a.station.Name,
				LoadedFrom:       string(a.source),
				RemoteConfigured: a.cfg.RemoteSettings().Configured(),
			}
			if out.RemoteConfigured {
				out.RemoteDriver = a.cfg.RemoteSettings().Driver
			}

			var err error
			if out.LastAuditID, _, err = a.cache.Meta(ctx, persist.MetaLastAuditID); err != nil {
				return err
			}
			if out.LastPushAt, _, err = a.cache.Meta(ctx, persist.MetaLastPushAt); err != nil {
				return err
			}
			raw, ok, err := a.cache.Meta(ctx, persist.MetaLastSyncStatus)
			if err != nil {
				return err
			}
			if ok {
				var st daemon.Status
				if err := json.Unmarshal([]byte(raw), &st); err == nil {
					out.LastSync = &st
				}
			}

			counts := a.store.State().Count()
			out.Counts = counts

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			a.out.Title(fmt.Sprintf("Station %s", out.Station))
			a.out.Field("Client ID", out.ClientID)
			a.out.Field("Profile", out.Profile)
			a.out.Field("Data", out.DataDir)
			if out.ConfigFile != "" {
				a.out.Field("Config", out.ConfigFile)
			}
			a.out.Field("Loaded from", out.LoadedFrom)

			a.out.Title("Records")
			a.out.Field("Jobs", fmt.Sprintf("%d active, %d deleted, %d archived", counts.ActiveJobs, counts.DeletedJobs, counts.ArchivedJobs))
			a.out.Field("Queries", fmt.Sprintf("%d active of %d", counts.ActiveQueries, counts.Queries))
			a.out.Field("Bookings", fmt.Sprintf("%d active of %d", counts.ActiveBookings, counts.Bookings))
			a.out.Field("Audit entries", counts.AuditEntries)

			a.out.Title("Sync")
			if !out.RemoteConfigured {
				a.out.Field("Remote", daemon.NotConfiguredMessage)
			} else {
				a.out.Field("Remote", a.remoteLabel())
			}
			if out.LastSync != nil {
				line := a.out.State(string(out.LastSync.State))
				if out.LastSync.Message != "" {
					line += ": " + out.LastSync.Message
				}
				a.out.Field("Last result", fmt.Sprintf("%s at %s", line, out.LastSync.Timestamp.Local().Format(time.DateTime)))
			} else {
				a.out.Field("Last result", a.out.State(string(daemon.StateIdle)))
			}
			if out.LastPushAt != "" {
				if t, err := time.Parse(time.RFC3339Nano, out.LastPushAt); err == nil {
					a.out.Field("Last push", t.Local().Format(time.DateTime))
				}
			}
			if out.LastAuditID != "" {
				a.out.Field("Audit watermark", out.LastAuditID)
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(statusCmd)
}
