package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/backup"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/dashboard"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the station: keep local data in sync with the remote",
	Long: `Run the station until interrupted.

While running, diffking:
  - pushes local changes to the remote 500ms after the last edit
  - merges changes other stations make, as they happen
  - archives finished jobs past the retention window every hour
  - imports json, jsonl and yaml files dropped into <data-dir>/inbox
  - serves a live dashboard with --dashboard (ws://host:port/ws)
  - uploads jobs.json snapshots to S3 when backup.bucket is set

Without a remote the station works offline and only the local parts run.
SIGHUP reopens the log file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			return runStation(cmd, a)
		})
	},
}

func runStation(cmd *cobra.Command, a *app) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	configured := a.cfg.RemoteSettings().Configured()
	c := a.store.State().Count()
	a.out.Title(fmt.Sprintf("Station %s (%s)", a.station.Name, a.cfg.Profile))
	a.out.Field("Data", a.cfg.DataDir)
	a.out.Field("Loaded from", a.source)
	a.out.Field("Jobs", fmt.Sprintf("%d active, %d total", c.ActiveJobs, c.Jobs))
	if configured {
		a.out.Field("Remote", a.remoteLabel())
	} else {
		a.out.Warn("%s Working offline.", daemon.NotConfiguredMessage)
	}

	unwatch := engine.Status().Subscribe(func(st daemon.Status) {
		switch st.State {
		case daemon.StateError:
			a.out.Error("Sync: %s", st.Message)
		case daemon.StateSuccess:
			a.out.Muted("Synced at %s", st.Timestamp.Local().Format("15:04:05"))
		}
	})
	defer unwatch()

	// The engine outlives ctx so a final push can run after the signal.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Start(engineCtx); err != nil {
			a.logger("sync").Printf("Engine error: %v", err)
		}
	}()

	var stops []func()

	if dashboardEnabled(cmd, a) {
		stop, err := startDashboard(a, engine)
		if err != nil {
			_ = engine.Stop()
			wg.Wait()
			return err
		}
		stops = append(stops, stop)
	}

	if a.cfg.Inbox.Enabled {
		stop, err := startInbox(ctx, a)
		if err != nil {
			a.out.Warn("Inbox disabled: %v", err)
		} else {
			stops = append(stops, stop)
		}
	}

	if settings := a.cfg.BackupSettings(); settings.Enabled() {
		stop, err := startBackup(ctx, a, settings)
		if err != nil {
			a.out.Warn("Backups disabled: %v", err)
		} else {
			stops = append(stops, stop)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	a.out.Muted("Press Ctrl+C to stop...")
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-hup:
			if err := a.logs.Rotate(); err != nil {
				a.out.Error("Failed to reopen log: %v", err)
			}
		}
	}

	a.out.Muted("Shutting down...")
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}

	if configured {
		pushCtx, cancelPush := context.WithTimeout(context.Background(), a.cfg.Sync.RemoteTimeout)
		if err := engine.PushNow(pushCtx); err != nil && !errors.Is(err, daemon.ErrStopped) {
			a.out.Warn("Final push failed, changes stay queued locally: %v", err)
		}
		cancelPush()
	}
	_ = engine.Stop()
	wg.Wait()

	a.out.Success("Station stopped")
	return nil
}

func dashboardEnabled(cmd *cobra.Command, a *app) bool {
	on, _ := cmd.Flags().GetBool("dashboard")
	return on || cmd.Flags().Changed("dashboard-port") || a.cfg.Dashboard.Enabled
}

func startDashboard(a *app, engine *daemon.Engine) (func(), error) {
	logger := a.logger("dashboard")
	server := dashboard.NewServer(&dashboard.Config{
		Host:   a.cfg.Dashboard.Host,
		Port:   a.cfg.Dashboard.Port,
		Logger: logger,
	})
	handler, err := dashboard.NewHandler(server, a.store, engine, logger)
	if err != nil {
		return nil, err
	}
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	handler.Attach()

	addr := server.GetAddr()
	a.out.Field("Dashboard", "http://"+addr)
	a.out.Field("WebSocket", "ws://"+addr+"/ws")

	return func() {
		handler.Detach()
		if err := server.Stop(); err != nil {
			a.out.Error("Dashboard shutdown: %v", err)
		}
	}, nil
}

func startInbox(ctx context.Context, a *app) (func(), error) {
	watcher, err := daemon.NewInboxWatcher(a.cfg.InboxDir(), a.store, a.cfg.Inbox.Delay, a.logger("inbox"))
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(); err != nil {
		return nil, err
	}
	a.out.Field("Inbox", watcher.Dir())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case r := <-watcher.Results():
				if r.Err != nil {
					a.out.Error("Import of %s failed: %v", filepath.Base(r.Path), r.Err)
				} else {
					a.out.Success("Imported %s: %s", filepath.Base(r.Path), r.Result)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(done)
		if err := watcher.Stop(); err != nil {
			a.out.Error("Inbox shutdown: %v", err)
		}
	}, nil
}

func startBackup(ctx context.Context, a *app, settings backup.Settings) (func(), error) {
	client, err := backup.NewS3Client(ctx, settings)
	if err != nil {
		return nil, err
	}
	uploader, err := backup.New(client, settings, a.file.ReadDurable, a.logger("backup"))
	if err != nil {
		return nil, err
	}
	a.out.Field("Backups", fmt.Sprintf("s3://%s every %s", settings.Bucket, settings.Interval))

	go func() { _ = uploader.Start(ctx) }()
	return func() { _ = uploader.Stop() }, nil
}

func init() {
	f := runCmd.Flags()
	f.Bool("dashboard", false, "Serve the live dashboard")
	f.Int("dashboard-port", 8080, "Dashboard port (implies --dashboard)")
	f.String("remote-url", "", "Remote URL (overrides remote.url)")
	f.String("remote-key", "", "Remote API key (overrides remote.key)")
	f.String("remote-driver", "", "Remote driver: supabase or postgres")
	f.Duration("push-debounce", 0, "Quiet period before pushing local changes")

	rootCmd.AddCommand(runCmd)
}
