// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Catalog and state backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Site         SiteConfig         `mapstructure:"site"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	State        StateConfig        `mapstructure:"state"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
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

// SiteConfig identifies the site being mirrored.
type SiteConfig struct {
	HomeURL string `mapstructure:"home_url"`
}

// OrchestratorConfig tunes trigger collapsing and run exclusion.
type OrchestratorConfig struct {
	DebounceDelay   time.Duration `mapstructure:"debounce_delay"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	DestinationRoot string        `mapstructure:"destination_root"`
}

// CrawlerConfig locates the external crawl program.
type CrawlerConfig struct {
	Binary      string `mapstructure:"binary"`
	ScratchRoot string `mapstructure:"scratch_root"`
}

// StorageConfig selects where published mirrors live.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	BaseDir       string `mapstructure:"base_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// CatalogConfig controls artifact bookkeeping and retention.
type CatalogConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	TTL             time.Duration `mapstructure:"ttl"`
	ExpirySchedule  string        `mapstructure:"expiry_schedule"`
}

// StateConfig selects the shared orchestration state backend.
type StateConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// PubSubConfig holds metadata for mirror lifecycle notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig describes the service for trace resources. Traces are
// exported to Cloud Trace when ProjectID is set.
type TelemetryConfig struct {
	ProjectID   string  `mapstructure:"project_id"`
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("site.home_url", "")
	v.SetDefault("orchestrator.debounce_delay", "10s")
	v.SetDefault("orchestrator.retry_delay", "3m")
	v.SetDefault("orchestrator.lock_ttl", "0s")
	v.SetDefault("orchestrator.destination_root", "mirrors")
	v.SetDefault("crawler.binary", "wget")
	v.SetDefault("crawler.scratch_root", "")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("catalog.backend", BackendMemory)
	v.SetDefault("catalog.table", "mirror_artifacts")
	v.SetDefault("catalog.max_conns", 4)
	v.SetDefault("catalog.min_conns", 0)
	v.SetDefault("catalog.max_conn_lifetime", "30m")
	v.SetDefault("catalog.ttl", "0s")
	v.SetDefault("catalog.expiry_schedule", "@hourly")
	v.SetDefault("state.backend", BackendMemory)
	v.SetDefault("state.redis_addr", "localhost:6379")
	v.SetDefault("state.redis_db", 0)
	v.SetDefault("state.key_prefix", "site-mirror")
	v.SetDefault("telemetry.service_name", "site-mirror")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Site.HomeURL != "" {
		u, err := url.Parse(c.Site.HomeURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("site.home_url must be an absolute URL")
		}
	}
	if c.Orchestrator.DebounceDelay < 0 {
		return fmt.Errorf("orchestrator.debounce_delay must be >= 0")
	}
	if c.Orchestrator.RetryDelay <= 0 {
		return fmt.Errorf("orchestrator.retry_delay must be > 0")
	}
	if c.Orchestrator.LockTTL < 0 {
		return fmt.Errorf("orchestrator.lock_ttl must be >= 0")
	}
	if c.Crawler.Binary == "" {
		return fmt.Errorf("crawler.binary is required")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Catalog.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("catalog.backend %q is not supported", c.Catalog.Backend)
	}
	if c.Catalog.TTL < 0 {
		return fmt.Errorf("catalog.ttl must be >= 0")
	}
	switch c.State.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.State.RedisAddr == "" {
			return fmt.Errorf("state.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}
