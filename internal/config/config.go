// Package config loads and validates tracker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// Storage drivers accepted by storage.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Detector DetectorConfig `mapstructure:"detector"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the web UI listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TrackerConfig governs run behavior.
type TrackerConfig struct {
	DelaySeconds float64 `mapstructure:"delay_seconds"`
}

// FetchConfig controls how profile pages are requested.
type FetchConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	MinIntervalMs int    `mapstructure:"min_interval_ms"`
}

// HTTPConfig configures client timeouts and the transient retry.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// DetectorConfig lists body markers that identify a login wall.
type DetectorConfig struct {
	Markers []string `mapstructure:"markers"`
}

// StorageConfig selects the profile store and the blob destinations.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	LocalDir   string `mapstructure:"local_dir"`
	Prefix     string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	MaxConns      int32  `mapstructure:"max_conns"`
	ProfilesTable string `mapstructure:"profiles_table"`
	HistoryTable  string `mapstructure:"history_table"`
}

// ArchiveConfig toggles raw page archiving.
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEADLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "HEADLINE_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v, os.Getenv("DATA_DIR"))

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
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("tracker.delay_seconds", 5)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.min_interval_ms", 0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.retry_backoff_ms", 1000)
	v.SetDefault("detector.markers", []string{})
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "headlines.db"))
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", filepath.Join(dataDir, "archive"))
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.profiles_table", "profiles")
	v.SetDefault("db.history_table", "profile_history")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RetryBackoffMs < 0 {
		return errors.New("http.retry_backoff_ms must be >= 0")
	}
	if c.Fetch.MinIntervalMs < 0 {
		return errors.New("fetch.min_interval_ms must be >= 0")
	}
	if _, err := tracker.DelayFromSeconds(c.Tracker.DelaySeconds); err != nil {
		return fmt.Errorf("tracker.delay_seconds: %w", err)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Archive.Enabled && c.Storage.GCSBucket == "" && c.Storage.LocalDir == "" {
		return errors.New("storage.gcs_bucket or storage.local_dir is required when archive is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// Addr is the host:port the server listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Delay converts tracker.delay_seconds to a duration. Out-of-range values,
// which Validate rejects, yield zero.
func (c Config) Delay() time.Duration {
	d, err := tracker.DelayFromSeconds(c.Tracker.DelaySeconds)
	if err != nil {
		return 0
	}
	return d
}

// HTTPTimeout is the per-request fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryBackoff is the pause before the single transient retry.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.HTTP.RetryBackoffMs) * time.Millisecond
}

// MinInterval is the per-host politeness floor.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.Fetch.MinIntervalMs) * time.Millisecond
}
