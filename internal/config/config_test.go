package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/remote"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("profile", DefaultProfile, "")
	fs.String("data-dir", "", "")
	fs.Bool("verbose", false, "")
	fs.Int("dashboard-port", 8080, "")
	fs.String("remote-url", "", "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Flags: flags(t, "--data-dir", dir), Getenv: noEnv})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Profile != DefaultProfile || cfg.DataDir != dir || cfg.File != "" {
		t.Errorf("unexpected location: %+v", cfg)
	}
	if cfg.Sync.PushDebounce != 500*time.Millisecond || cfg.Sync.FileDebounce != 600*time.Millisecond {
		t.Errorf("unexpected debounces: %+v", cfg.Sync)
	}
	if cfg.Retention.Window != 60*24*time.Hour {
		t.Errorf("retention window = %v", cfg.Retention.Window)
	}
	if cfg.IDStrategy() != schema.IDSequential {
		t.Errorf("id strategy = %s", cfg.IDStrategy())
	}
	if cfg.RemoteSettings().Configured() {
		t.Error("remote should not be configured by default")
	}
	if cfg.FilePath() != filepath.Join(dir, "jobs.json") {
		t.Errorf("FilePath = %s", cfg.FilePath())
	}
	if cfg.LogPath() != "" {
		t.Errorf("LogPath = %q, want empty", cfg.LogPath())
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[remote]
driver = "postgres"
url = "postgres://file"

[sync]
push_debounce = "2s"

[ids]
strategy = "uuid"

[log]
file = "station.log"
`)

	t.Setenv("DIFFKING_REMOTE_URL", "postgres://env")
	t.Setenv("DIFFKING_RETENTION_WINDOW", "720h")

	cfg, err := Load(Options{Flags: flags(t, "--data-dir", dir, "--verbose"), Getenv: noEnv})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != filepath.Join(dir, ConfigFileName) {
		t.Errorf("config file = %q", cfg.File)
	}
	settings := cfg.RemoteSettings()
	if settings.Driver != remote.DriverPostgres || settings.URL != "postgres://env" {
		t.Errorf("remote settings = %+v", settings)
	}
	if !settings.Configured() {
		t.Error("postgres with a url should be configured")
	}
	if cfg.Sync.PushDebounce != 2*time.Second {
		t.Errorf("push debounce = %v", cfg.Sync.PushDebounce)
	}
	if cfg.Retention.Window != 720*time.Hour {
		t.Errorf("retention window = %v", cfg.Retention.Window)
	}
	if cfg.IDStrategy() != schema.IDUUID {
		t.Errorf("id strategy = %s", cfg.IDStrategy())
	}
	if !cfg.Log.Verbose {
		t.Error("--verbose not applied")
	}
	if cfg.LogPath() != filepath.Join(dir, LogDirName, "station.log") {
		t.Errorf("LogPath = %s", cfg.LogPath())
	}

	// Flags beat the environment.
	cfg, err = Load(Options{Flags: flags(t, "--data-dir", dir, "--remote-url", "postgres://flag"), Getenv: noEnv})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Remote.URL != "postgres://flag" {
		t.Errorf("flag did not override env: %s", cfg.Remote.URL)
	}
}

func TestLoadXDGConfig(t *testing.T) {
	xdg := t.TempDir()
	if err := os.MkdirAll(filepath.Join(xdg, "diffking"), 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, filepath.Join(xdg, "diffking"), "[dashboard]\nport = 9100\n")

	getenv := func(k string) string {
		if k == "XDG_CONFIG_HOME" {
			return xdg
		}
		return ""
	}
	cfg, err := Load(Options{Flags: flags(t, "--data-dir", t.TempDir()), Getenv: getenv})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dashboard.Port != 9100 {
		t.Errorf("dashboard port = %d", cfg.Dashboard.Port)
	}
}

func TestLoadProfileDir(t *testing.T) {
	cfg, err := Load(Options{Flags: flags(t, "--profile", "garage"), Getenv: noEnv})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Profile != "garage" {
		t.Errorf("profile = %q", cfg.Profile)
	}
	want := filepath.Join(AppDir, "garage")
	if !strings.HasSuffix(cfg.DataDir, want) {
		t.Errorf("data dir %s does not end with %s", cfg.DataDir, want)
	}
	if cfg.BackupSettings().Profile != "garage" {
		t.Error("backup settings lost the profile")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "bad strategy", content: "[ids]\nstrategy = \"random\"\n", want: "strategy"},
		{name: "bad driver", content: "[remote]\ndriver = \"mysql\"\n", want: "unknown remote driver"},
		{name: "bad toml", content: "[remote\n", want: "failed to read config"},
		{name: "bad port", content: "[dashboard]\nport = 70000\n", want: "invalid dashboard port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(Options{Flags: flags(t, "--data-dir", dir), Getenv: noEnv})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.toml"), Getenv: noEnv}); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestEngineConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[sync]\nreconnect_interval = \"30s\"\n")
	cfg, err := Load(Options{Flags: flags(t, "--data-dir", dir), Getenv: noEnv})
	if err != nil {
		t.Fatal(err)
	}

	ec := cfg.EngineConfig(&Station{ClientID: "abc"})
	if ec.ClientID != "abc" || ec.ReconnectInterval != 30*time.Second || ec.PushDebounce != 500*time.Millisecond {
		t.Errorf("unexpected engine config: %+v", ec)
	}
}

func TestLoadStation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile", StationFileName)

	first, created, err := LoadStation(path)
	if err != nil {
		t.Fatalf("LoadStation failed: %v", err)
	}
	if !created || first.ClientID == "" {
		t.Fatalf("expected a new station, got %+v created=%v", first, created)
	}

	second, created, err := LoadStation(path)
	if err != nil {
		t.Fatalf("second LoadStation failed: %v", err)
	}
	if created {
		t.Error("station recreated on second load")
	}
	if second.ClientID != first.ClientID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("station changed: %+v vs %+v", second, first)
	}
}

func TestLoadStationRejectsEmptyID(t *testing.T) {
	path := filepath.Join(t.TempDir(), StationFileName)
	if err := os.WriteFile(path, []byte("name = \"bench\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadStation(path); err == nil {
		t.Error("expected error for a station without client_id")
	}
}
