// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
	"github.com/JakeFAU/site-audit-crawler/internal/logging"
)

// EnvPrefix namespaces environment overrides: crawler.workers is read from
// AUDIT_CRAWLER_WORKERS.
const EnvPrefix = "AUDIT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Auth    AuthConfig     `mapstructure:"auth"`
	Crawler CrawlerConfig  `mapstructure:"crawler"`
	Storage StorageConfig  `mapstructure:"storage"`
	DB      DBConfig       `mapstructure:"db"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Lock    LockConfig     `mapstructure:"lock"`
	Logging logging.Config `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig holds run defaults and the shared fetch pipeline knobs.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	MaxPages          int    `mapstructure:"max_pages"`
	MaxDepth          int    `mapstructure:"max_depth"`
	DelayMs           int    `mapstructure:"delay_ms"`
	TimeoutMs         int    `mapstructure:"timeout_ms"`
	RespectRobotsTxt  bool   `mapstructure:"respect_robots_txt"`
	IncludeSubdomains bool   `mapstructure:"include_subdomains"`
	FollowRedirects   bool   `mapstructure:"follow_redirects"`
	CrawlImages       bool   `mapstructure:"crawl_images"`

	PolitenessDelayMs int     `mapstructure:"politeness_delay_ms"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BackoffBaseMs     int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	MaxRedirects      int     `mapstructure:"max_redirects"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
	HostRPS           float64 `mapstructure:"host_rps"`
	HostBurst         int     `mapstructure:"host_burst"`
	RobotsTTLMinutes  int     `mapstructure:"robots_ttl_minutes"`
	CheckpointEvery   int     `mapstructure:"checkpoint_every"`
	Workers           int     `mapstructure:"workers"`
	QueueDepth        int     `mapstructure:"queue_depth"`
}

// StorageConfig picks the run store and report archive backends.
type StorageConfig struct {
	RunStore     string `mapstructure:"run_store"`
	BlobStore    string `mapstructure:"blob_store"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	ReportPrefix string `mapstructure:"report_prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// PubSubConfig holds run-finished notification settings. An empty project
// keeps events in process.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LockConfig selects the per-run lock provider.
type LockConfig struct {
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendRedis    = "redis"
)

// Load builds a Config from an optional file plus the environment.
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

// Every key gets a default so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("crawler.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("crawler.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawler.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawler.delay_ms", crawler.DefaultDelayMs)
	v.SetDefault("crawler.timeout_ms", crawler.DefaultTimeoutMs)
	v.SetDefault("crawler.respect_robots_txt", true)
	v.SetDefault("crawler.include_subdomains", false)
	v.SetDefault("crawler.follow_redirects", true)
	v.SetDefault("crawler.crawl_images", true)
	v.SetDefault("crawler.politeness_delay_ms", int(crawler.DefaultPolitenessDelay/time.Millisecond))
	v.SetDefault("crawler.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("crawler.backoff_base_ms", int(crawler.DefaultBackoffBase/time.Millisecond))
	v.SetDefault("crawler.backoff_max_ms", int(crawler.DefaultBackoffMax/time.Millisecond))
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.host_rps", 2.0)
	v.SetDefault("crawler.host_burst", 1)
	v.SetDefault("crawler.robots_ttl_minutes", 60)
	v.SetDefault("crawler.checkpoint_every", crawler.DefaultCheckpointEvery)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.queue_depth", 64)

	v.SetDefault("storage.run_store", BackendMemory)
	v.SetDefault("storage.blob_store", BackendMemory)
	v.SetDefault("storage.local_dir", "./reports")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.report_prefix", "reports")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "audit_runs")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "audit-run-finished")

	v.SetDefault("lock.provider", BackendMemory)
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl_seconds", 30)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Auth.Enabled && c.Auth.APIKey == "":
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	case c.Crawler.Workers <= 0:
		return fmt.Errorf("crawler.workers must be > 0")
	case c.Crawler.QueueDepth <= 0:
		return fmt.Errorf("crawler.queue_depth must be > 0")
	case c.Crawler.MaxAttempts <= 0:
		return fmt.Errorf("crawler.max_attempts must be > 0")
	case c.Crawler.HostRPS <= 0:
		return fmt.Errorf("crawler.host_rps must be > 0")
	case c.Crawler.MaxPages <= 0 || c.Crawler.MaxDepth <= 0:
		return fmt.Errorf("crawler.max_pages and crawler.max_depth must be > 0")
	}

	switch c.Storage.RunStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when storage.run_store is postgres")
		}
	default:
		return fmt.Errorf("storage.run_store must be memory or postgres, got %q", c.Storage.RunStore)
	}

	switch c.Storage.BlobStore {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required when storage.blob_store is local")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required when storage.blob_store is gcs")
		}
	default:
		return fmt.Errorf("storage.blob_store must be memory, local or gcs, got %q", c.Storage.BlobStore)
	}

	switch c.Lock.Provider {
	case BackendMemory:
	case BackendRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required when lock.provider is redis")
		}
	default:
		return fmt.Errorf("lock.provider must be memory or redis, got %q", c.Lock.Provider)
	}
	return nil
}

// DefaultSettings returns the crawl settings applied to runs that leave a
// field unset.
func (c CrawlerConfig) DefaultSettings() crawler.CrawlSettings {
	return crawler.CrawlSettings{
		MaxPages:          c.MaxPages,
		MaxDepth:          c.MaxDepth,
		RespectRobotsTxt:  c.RespectRobotsTxt,
		IncludeSubdomains: c.IncludeSubdomains,
		FollowRedirects:   c.FollowRedirects,
		CrawlImages:       c.CrawlImages,
		UserAgent:         c.UserAgent,
		Delay:             c.DelayMs,
		Timeout:           c.TimeoutMs,
	}
}

// PolitenessDelay is the minimum delay before each attempt, whatever a run's
// own delay.
func (c CrawlerConfig) PolitenessDelay() time.Duration {
	return time.Duration(c.PolitenessDelayMs) * time.Millisecond
}

// BackoffBase is the first retry delay.
func (c CrawlerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c CrawlerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// RobotsTTL is how long a host's robots.txt is cached.
func (c CrawlerConfig) RobotsTTL() time.Duration {
	return time.Duration(c.RobotsTTLMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// TTL is the lock expiry.
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MaxConnLifetime is the pool connection lifetime.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMinutes) * time.Minute
}
