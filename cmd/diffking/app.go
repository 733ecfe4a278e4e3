package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/config"
	"github.com/itsboxy/diffking-job-tracker/internal/logging"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/persist"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/remote"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
	"github.com/itsboxy/diffking-job-tracker/internal/ui"
)

// app is everything a command needs to read or change the station's data.
type app struct {
	cfg     *config.Config
	station *config.Station
	logs    *logging.Logs
	out     *ui.Printer

	cache  *persist.Cache
	file   *persist.File
	store  *store.Store
	mirror *persist.Mirror
	source persist.Source

	detach func()
}

// loadConfig merges config sources using cmd's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.Options{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
}

// openApp loads config, the station identity and the saved state, and
// mirrors every later change to the cache and jobs.json.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logs, err := logging.New(logging.Options{
		File:       cfg.LogPath(),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Verbose:    cfg.Log.Verbose,
	})
	if err != nil {
		return nil, err
	}

	station, created, err := config.LoadStation(cfg.StationPath())
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if created {
		logs.Logger("config").Printf("Created station %s in %s", station.ClientID, cfg.DataDir)
	}

	cache, err := persist.OpenCache(cfg.CachePath())
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	file := persist.NewFile(cfg.FilePath())

	state, source := persist.Load(cache, file, time.Now(), logs.Logger("persist"))
	s := store.New(state,
		store.WithClientID(station.ClientID),
		store.WithIDStrategy(cfg.IDStrategy()),
	)

	mirror := persist.NewMirror(cache, file, persist.MirrorConfig{
		DurableDelay: cfg.Sync.FileDebounce,
		Logger:       logs.Logger("persist"),
	})

	return &app{
		cfg:     cfg,
		station: station,
		logs:    logs,
		out:     ui.New(cmd.OutOrStdout()),
		cache:   cache,
		file:    file,
		store:   s,
		mirror:  mirror,
		source:  source,
		detach:  mirror.Attach(s),
	}, nil
}

// Close flushes the pending jobs.json write and releases the cache.
func (a *app) Close() error {
	a.detach()
	var errs []error
	if err := a.mirror.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) logger(component string) *log.Logger {
	return a.logs.Logger(component)
}

// newEngine builds a sync engine over the app's store and cache.
func (a *app) newEngine() (*daemon.Engine, error) {
	cfg := a.cfg.EngineConfig(a.station)
	cfg.Logger = a.logger("sync")
	return daemon.NewWithConfig(a.store, a.cache, cfg)
}

// remoteLabel describes the remote without its credentials.
func (a *app) remoteLabel() string {
	settings := a.cfg.RemoteSettings()
	driver := settings.Driver
	if driver == "" {
		driver = remote.DriverSupabase
	}
	u, err := url.Parse(settings.URL)
	if err != nil || u.Host == "" {
		return driver
	}
	return fmt.Sprintf("%s://%s (%s)", u.Scheme, u.Host, driver)
}

// syncOnce connects, pulls and pushes, then stops the engine.
func (a *app) syncOnce(ctx context.Context, pull, push bool) error {
	if !a.cfg.RemoteSettings().Configured() {
		return remote.ErrNotConfigured
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*a.cfg.Sync.RemoteTimeout+5*time.Second)
	defer cancel()

	started := make(chan struct{})
	go func() {
		defer close(started)
		_ = engine.Start(ctx)
	}()
	defer func() {
		_ = engine.Stop()
		<-started
	}()

	if pull {
		if err := engine.PullNow(ctx); err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
	}
	if push {
		if err := engine.PushNow(ctx); err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
	}
	return nil
}

// changed finishes a mutating command: with --sync it pulls and pushes.
func (a *app) changed(ctx context.Context) error {
	if !syncAfter {
		return nil
	}
	if err := a.syncOnce(ctx, true, true); err != nil {
		if errors.Is(err, remote.ErrNotConfigured) {
			a.out.Warn("%s Change saved locally only.", daemon.NotConfiguredMessage)
			return nil
		}
		return err
	}
	a.out.Success("Synced with the remote")
	return nil
}

// outFor returns a printer for commands that run without an app.
func outFor(cmd *cobra.Command) *ui.Printer {
	return ui.New(cmd.OutOrStdout())
}

// withApp opens the app, runs fn and closes the app even when fn fails.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
