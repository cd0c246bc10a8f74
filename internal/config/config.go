// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// EnvPrefix prefixes every environment override, e.g. SNAPLY_SERVER_PORT.
const EnvPrefix = "SNAPLY"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Registry RegistryConfig `mapstructure:"registry"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CaptureConfig governs the screenshot pipeline.
type CaptureConfig struct {
	ScreenshotDir     string        `mapstructure:"screenshot_dir"`
	LinkBudget        int           `mapstructure:"link_budget"`
	DOMTimeout        time.Duration `mapstructure:"dom_timeout"`
	SettleTime        time.Duration `mapstructure:"settle_time"`
	ResizeSettle      time.Duration `mapstructure:"resize_settle"`
	ConsentRetryDelay time.Duration `mapstructure:"consent_retry_delay"`
	ConsentWait       time.Duration `mapstructure:"consent_wait"`
	NavigationQPS     float64       `mapstructure:"navigation_qps"`
	MobileWidth       int           `mapstructure:"mobile_width"`
	MobileHeight      int           `mapstructure:"mobile_height"`
	DesktopWidth      int           `mapstructure:"desktop_width"`
	DesktopHeight     int           `mapstructure:"desktop_height"`
}

// BrowserConfig configures the headless Chrome launcher.
type BrowserConfig struct {
	ExecPath    string        `mapstructure:"exec_path"`
	UserAgent   string        `mapstructure:"user_agent"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
	MaxParallel int           `mapstructure:"max_parallel"`
}

// JobsConfig selects the job store and its retention.
type JobsConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// RegistryConfig selects the domain registry backend.
type RegistryConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// StorageConfig configures the optional screenshot mirror.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Backend names.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables already set are not overridden.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("capture.screenshot_dir", "static/screenshots")
	v.SetDefault("capture.link_budget", 50)
	v.SetDefault("capture.dom_timeout", 20*time.Second)
	v.SetDefault("capture.settle_time", 5*time.Second)
	v.SetDefault("capture.resize_settle", 5*time.Second)
	v.SetDefault("capture.consent_retry_delay", 2*time.Second)
	v.SetDefault("capture.consent_wait", 3*time.Second)
	v.SetDefault("capture.navigation_qps", 0.0)
	v.SetDefault("capture.mobile_width", 375)
	v.SetDefault("capture.mobile_height", 812)
	v.SetDefault("capture.desktop_width", 1920)
	v.SetDefault("capture.desktop_height", 1080)

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.max_parallel", 2)

	v.SetDefault("jobs.backend", BackendFile)
	v.SetDefault("jobs.dir", "data/tasks")
	v.SetDefault("jobs.postgres_dsn", "")
	v.SetDefault("jobs.max_age", 24*time.Hour)
	v.SetDefault("jobs.sweep_schedule", "@hourly")

	v.SetDefault("registry.backend", BackendFile)
	v.SetDefault("registry.path", "data/domains.json")

	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "screenshots")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Capture.LinkBudget < 0 {
		return fmt.Errorf("capture.link_budget must be >= 0")
	}
	if c.Capture.ScreenshotDir == "" {
		return fmt.Errorf("capture.screenshot_dir is required")
	}
	if c.Capture.MobileWidth <= 0 || c.Capture.MobileHeight <= 0 ||
		c.Capture.DesktopWidth <= 0 || c.Capture.DesktopHeight <= 0 {
		return fmt.Errorf("capture viewport dimensions must be > 0")
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	switch c.Jobs.Backend {
	case BackendFile:
		if c.Jobs.Dir == "" {
			return fmt.Errorf("jobs.dir is required for the file backend")
		}
	case BackendPostgres:
		if c.Jobs.PostgresDSN == "" {
			return fmt.Errorf("jobs.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("jobs.backend %q is not supported", c.Jobs.Backend)
	}
	if c.Jobs.MaxAge <= 0 {
		return fmt.Errorf("jobs.max_age must be > 0")
	}
	switch c.Registry.Backend {
	case BackendFile, BackendBadger:
		if c.Registry.Path == "" {
			return fmt.Errorf("registry.path is required")
		}
	default:
		return fmt.Errorf("registry.backend %q is not supported", c.Registry.Backend)
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// MobileViewport returns the mobile window size.
func (c Config) MobileViewport() capture.Viewport {
	return capture.Viewport{Width: c.Capture.MobileWidth, Height: c.Capture.MobileHeight}
}

// DesktopViewport returns the desktop window size.
func (c Config) DesktopViewport() capture.Viewport {
	return capture.Viewport{Width: c.Capture.DesktopWidth, Height: c.Capture.DesktopHeight}
}
