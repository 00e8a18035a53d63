// Package config loads taskbridge settings from file, environment and defaults.
//
// Precedence, highest first: TASKBRIDGE_* environment variables, the config
// file, built-in defaults. The file is taskbridge.(yaml|toml|json), looked up
// in ./.taskbridge and then $XDG_CONFIG_HOME/taskbridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides: provider.path is read
// from TASKBRIDGE_PROVIDER_PATH.
const EnvPrefix = "TASKBRIDGE"

// DirName is the per-project state directory.
const DirName = ".taskbridge"

// Config is the full taskbridge configuration.
type Config struct {
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Mirror    MirrorConfig    `mapstructure:"mirror" yaml:"mirror"`
	Jobs      JobsConfig      `mapstructure:"jobs" yaml:"jobs"`
	Feed      FeedConfig      `mapstructure:"feed" yaml:"feed"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// ProviderConfig locates the external task store.
type ProviderConfig struct {
	Path             string   `mapstructure:"path" yaml:"path"`
	PrimaryAuthority string   `mapstructure:"primary_authority" yaml:"primary_authority"`
	CompatAuthority  string   `mapstructure:"compat_authority" yaml:"compat_authority"`
	MinVersion       string   `mapstructure:"min_version" yaml:"min_version"`
	AccountTypes     []string `mapstructure:"account_types" yaml:"account_types"`
}

// MirrorConfig locates the local mirror cache.
type MirrorConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// JobsConfig tunes the sync scheduler.
type JobsConfig struct {
	Workers    int           `mapstructure:"workers" yaml:"workers"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Coalesce   bool          `mapstructure:"coalesce" yaml:"coalesce"`
	JobTimeout time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// FeedConfig tunes change notification delivery.
type FeedConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// DashboardConfig configures the refresh broadcast server.
type DashboardConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// ClientConfig identifies this process as a writer to the provider.
type ClientConfig struct {
	// Origin tags every write so our own changes can be recognised when
	// they are echoed back. Defaults to a fresh id per process.
	Origin string `mapstructure:"origin" yaml:"origin"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider.path", filepath.Join(DirName, "provider.db"))
	v.SetDefault("provider.primary_authority", "org.dmfs.tasks")
	v.SetDefault("provider.compat_authority", "org.tasks.opentasks")
	v.SetDefault("provider.min_version", "v1.0.0")
	v.SetDefault("provider.account_types", []string{"bitfire.at.davdroid", "com.etesync.syncadapter"})

	v.SetDefault("mirror.path", filepath.Join(DirName, "mirror.db"))

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.debounce", 250*time.Millisecond)
	v.SetDefault("jobs.coalesce", true)
	v.SetDefault("jobs.job_timeout", 30*time.Second)

	v.SetDefault("feed.poll_interval", 2*time.Second)

	v.SetDefault("dashboard.host", "")
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("log.file", "")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("client.origin", "")
}

// New returns a viper instance with defaults, env binding and config search
// paths set up. If path is non-empty that file is used instead of searching.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v
	}
	v.SetConfigName("taskbridge")
	v.AddConfigPath(DirName)
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "taskbridge"))
	}
	return v
}

// Load reads the configuration. A missing config file is not an error; an
// explicitly named file that cannot be read is.
func Load(path string) (*Config, error) {
	return Read(New(path))
}

// Read reads the config file (if any) of v and decodes it into a Config.
func Read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Client.Origin == "" {
		cfg.Client.Origin = "taskbridge-" + uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Provider.Path == "" {
		return fmt.Errorf("invalid config: provider.path is empty")
	}
	if c.Provider.PrimaryAuthority == "" {
		return fmt.Errorf("invalid config: provider.primary_authority is empty")
	}
	if c.Mirror.Path == "" {
		return fmt.Errorf("invalid config: mirror.path is empty")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("invalid config: jobs.workers must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.Debounce < 0 || c.Jobs.JobTimeout < 0 || c.Feed.PollInterval < 0 {
		return fmt.Errorf("invalid config: durations must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid config: dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// LockPath returns the watch instance lock file, next to the mirror cache.
func (c *Config) LockPath() string {
	return filepath.Join(filepath.Dir(c.Mirror.Path), "watch.lock")
}
