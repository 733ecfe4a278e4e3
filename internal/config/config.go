// Package config loads station settings.
//
// Values are layered, lowest first: built-in defaults, config.toml,
// DIFFKING_* environment variables, then command-line flags. The station
// identity lives separately in station.toml; see Station.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/backup"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/daemon"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/persist"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/remote"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/retention"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

const (
	// AppDir names the per-user application directory.
	AppDir = "Diff-King-Job-Tracker"

	// EnvPrefix prefixes every environment override, e.g. DIFFKING_REMOTE_URL.
	EnvPrefix = "DIFFKING"

	DefaultProfile = "default"

	ConfigFileName = "config.toml"
	CacheFileName  = "cache.db"
	InboxDirName   = "inbox"
	LogDirName     = "logs"
)

// Config is the merged station configuration.
type Config struct {
	Profile string `mapstructure:"profile"`
	DataDir string `mapstructure:"data_dir"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Retention RetentionConfig `mapstructure:"retention"`
	IDs       IDsConfig       `mapstructure:"ids"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Inbox     InboxConfig     `mapstructure:"inbox"`
	Backup    BackupConfig    `mapstructure:"backup"`
}

type RemoteConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
}

type SyncConfig struct {
	PushDebounce      time.Duration `mapstructure:"push_debounce"`
	FileDebounce      time.Duration `mapstructure:"file_debounce"`
	RemoteTimeout     time.Duration `mapstructure:"remote_timeout"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type IDsConfig struct {
	Strategy string `mapstructure:"strategy"`
}

type LogConfig struct {
	// File enables rotation into this path. Relative paths are under the
	// data directory.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Verbose    bool   `mapstructure:"verbose"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type InboxConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Delay   time.Duration `mapstructure:"delay"`
}

type BackupConfig struct {
	Bucket    string        `mapstructure:"bucket"`
	Prefix    string        `mapstructure:"prefix"`
	Region    string        `mapstructure:"region"`
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	PathStyle bool          `mapstructure:"path_style"`
	Interval  time.Duration `mapstructure:"interval"`
}

// Options locate the config sources.
type Options struct {
	// ConfigFile overrides the config file search.
	ConfigFile string

	// Flags are bound over every other source. Flags that were not set on
	// the command line do not override the file or environment.
	Flags *pflag.FlagSet

	// Getenv replaces os.Getenv for locating XDG_CONFIG_HOME.
	Getenv func(string) string
}

// flagKeys maps config keys to the flags that may override them.
var flagKeys = map[string]string{
	"profile":            "profile",
	"data_dir":           "data-dir",
	"log.verbose":        "verbose",
	"dashboard.port":     "dashboard-port",
	"remote.url":         "remote-url",
	"remote.key":         "remote-key",
	"remote.driver":      "remote-driver",
	"sync.push_debounce": "push-debounce",
}

func setDefaults(v *viper.Viper) {
	sync := daemon.DefaultConfig()

	v.SetDefault("profile", DefaultProfile)
	v.SetDefault("data_dir", "")

	v.SetDefault("remote.driver", remote.DriverSupabase)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.key", "")

	v.SetDefault("sync.push_debounce", sync.PushDebounce)
	v.SetDefault("sync.file_debounce", persist.DefaultDurableDelay)
	v.SetDefault("sync.remote_timeout", sync.RemoteTimeout)
	v.SetDefault("sync.reconnect_interval", sync.ReconnectInterval)

	v.SetDefault("retention.window", retention.DefaultWindow)
	v.SetDefault("retention.sweep_interval", sync.SweepInterval)

	v.SetDefault("ids.strategy", string(schema.IDSequential))

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.verbose", false)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("inbox.enabled", true)
	v.SetDefault("inbox.delay", daemon.DefaultInboxDelay)

	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.prefix", "diffking")
	v.SetDefault("backup.region", "")
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("backup.access_key", "")
	v.SetDefault("backup.secret_key", "")
	v.SetDefault("backup.path_style", false)
	v.SetDefault("backup.interval", backup.DefaultInterval)
}

// Load merges every config source.
func Load(opts Options) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	// The profile and data dir decide where the config file lives, so they
	// come from flags and environment only.
	profile := strings.TrimSpace(v.GetString("profile"))
	if profile == "" {
		profile = DefaultProfile
	}
	dataDir := v.GetString("data_dir")
	if dataDir == "" {
		dir, err := ProfileDir(profile)
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}

	file, err := findConfigFile(opts.ConfigFile, dataDir, getenv)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Profile = profile
	cfg.DataDir = dataDir
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile returns explicit when set, otherwise the first config
// file that exists in the data dir or the XDG config dir.
func findConfigFile(explicit, dataDir string, getenv func(string) string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{filepath.Join(dataDir, ConfigFileName)}
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "diffking", ConfigFileName))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to check %s: %w", path, err)
		}
	}
	return "", nil
}

// ProfileDir returns the default data directory for profile.
func ProfileDir(profile string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, AppDir, profile), nil
}

// Validate checks values that would otherwise fail later and further from
// their source.
func (c *Config) Validate() error {
	if _, err := schema.ParseIDStrategy(c.IDs.Strategy); err != nil {
		return err
	}
	switch strings.ToLower(c.Remote.Driver) {
	case "", remote.DriverSupabase, remote.DriverPostgres:
	default:
		return fmt.Errorf("unknown remote driver %q", c.Remote.Driver)
	}
	if c.Sync.PushDebounce <= 0 || c.Sync.FileDebounce <= 0 {
		return fmt.Errorf("debounce intervals must be positive")
	}
	if c.Retention.Window <= 0 {
		return fmt.Errorf("retention window must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard port %d", c.Dashboard.Port)
	}
	return nil
}

// FilePath is the durable jobs.json.
func (c *Config) FilePath() string {
	return filepath.Join(c.DataDir, persist.DefaultFileName)
}

// CachePath is the SQLite cache.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, CacheFileName)
}

// InboxDir is the watched import directory.
func (c *Config) InboxDir() string {
	return filepath.Join(c.DataDir, InboxDirName)
}

// StationPath is the station identity file.
func (c *Config) StationPath() string {
	return filepath.Join(c.DataDir, StationFileName)
}

// LogPath resolves Log.File against the data directory. It is empty when
// file logging is off.
func (c *Config) LogPath() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, LogDirName, c.Log.File)
}

// RemoteSettings converts the remote section for remote.Connect.
func (c *Config) RemoteSettings() remote.Settings {
	return remote.Settings{
		Driver: strings.ToLower(c.Remote.Driver),
		URL:    c.Remote.URL,
		Key:    c.Remote.Key,
	}
}

// IDStrategy returns the validated id strategy.
func (c *Config) IDStrategy() schema.IDStrategy {
	s, _ := schema.ParseIDStrategy(c.IDs.Strategy)
	return s
}

// BackupSettings converts the backup section for backup.New.
func (c *Config) BackupSettings() backup.Settings {
	return backup.Settings{
		Bucket:    c.Backup.Bucket,
		Prefix:    c.Backup.Prefix,
		Region:    c.Backup.Region,
		Endpoint:  c.Backup.Endpoint,
		AccessKey: c.Backup.AccessKey,
		SecretKey: c.Backup.SecretKey,
		PathStyle: c.Backup.PathStyle,
		Interval:  c.Backup.Interval,
		Profile:   c.Profile,
	}
}

// EngineConfig builds the sync engine configuration for station.
func (c *Config) EngineConfig(station *Station) *daemon.Config {
	cfg := daemon.DefaultConfig()
	cfg.ClientID = station.ClientID
	cfg.Remote = c.RemoteSettings()
	cfg.PushDebounce = c.Sync.PushDebounce
	cfg.RemoteTimeout = c.Sync.RemoteTimeout
	cfg.ReconnectInterval = c.Sync.ReconnectInterval
	cfg.SweepInterval = c.Retention.SweepInterval
	cfg.RetentionWindow = c.Retention.Window
	return cfg
}
