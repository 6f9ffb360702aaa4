// Package config defines the top-level configuration for the settlement
// daemon and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGERD_* environment variables.
type Config struct {
	Authority AuthorityConfig `toml:"authority"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feeds     FeedsConfig     `toml:"feeds"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// AuthorityConfig lists the principals allowed to create markets and the
// operator key the scheduler signs as.
type AuthorityConfig struct {
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Addresses        []string `toml:"addresses"`
	// FeeAccount receives service fees. Empty means each market's authority.
	FeeAccount string `toml:"fee_account"`
}

// HasKey reports whether an operator key source is configured.
func (a AuthorityConfig) HasKey() bool {
	return a.PrivateKey != "" || a.EncryptedKeyPath != ""
}

// LedgerConfig selects the persistence backend.
type LedgerConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	ConnMaxLifetime duration `toml:"conn_max_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
	// MarketTTL bounds how long market snapshots stay cached.
	MarketTTL duration `toml:"market_ttl"`
	// StreamMaxLen caps the market event stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedsConfig controls the streamed price feed.
type FeedsConfig struct {
	RTDSURL string   `toml:"rtds_url"`
	Symbols []string `toml:"symbols"`
	// MaxStaleness rejects cached prices older than this at sampling time.
	MaxStaleness duration `toml:"max_staleness"`
}

// SchedulerConfig controls the lifecycle sweeper.
type SchedulerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	Parallelism int      `toml:"parallelism"`
	AutoResolve bool     `toml:"auto_resolve"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	MaxClockSkew duration `toml:"max_clock_skew"`
	// RateLimit is requests per RateWindow per caller; zero disables it.
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	ReplayProtection bool     `toml:"replay_protection"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "wagerd",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			ConnMaxLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "wagerd",
			MarketTTL:    duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerd-settlements",
			ForcePathStyle: true,
		},
		Feeds: FeedsConfig{
			RTDSURL:      "wss://ws-live-data.polymarket.com",
			MaxStaleness: duration{30 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    duration{15 * time.Second},
			BatchSize:   100,
			Parallelism: 4,
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"*"},
			MaxClockSkew:     duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			ReplayProtection: true,
		},
		Notify: NotifyConfig{
			Events: []string{"market_confirmed", "reward_claimed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"feed":      true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, scheduler, feed, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Authority
	if len(c.Authority.Addresses) == 0 && !c.Authority.HasKey() {
		add("authority: set addresses or an operator key")
	}
	for _, a := range c.Authority.Addresses {
		if !common.IsHexAddress(a) {
			add("authority: invalid address %q", a)
		}
	}
	if c.Authority.FeeAccount != "" && !common.IsHexAddress(c.Authority.FeeAccount) {
		add("authority: invalid fee_account %q", c.Authority.FeeAccount)
	}
	if c.Authority.EncryptedKeyPath != "" && c.Authority.PrivateKey == "" && c.Authority.KeyPassword == "" {
		add("authority: key_password is required when encrypted_key_path is set")
	}
	runsScheduler := c.Scheduler.Enabled && (mode == "scheduler" || mode == "full")
	if runsScheduler && !c.Authority.HasKey() {
		add("authority: the scheduler needs private_key or encrypted_key_path")
	}

	// Ledger
	switch strings.ToLower(c.Ledger.Backend) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("ledger: unknown backend %q (valid: memory, postgres)", c.Ledger.Backend)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	// Feeds
	if len(c.Feeds.Symbols) > 0 {
		if c.Feeds.RTDSURL == "" {
			add("feeds: rtds_url is required when symbols are set")
		}
		if !c.Redis.Enabled {
			add("feeds: streamed prices require redis")
		}
	}
	if c.Feeds.MaxStaleness.Duration < 0 {
		add("feeds: max_staleness must not be negative")
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval.Duration <= 0 {
			add("scheduler: interval must be > 0")
		}
		if c.Scheduler.BatchSize < 1 {
			add("scheduler: batch_size must be >= 1")
		}
		if c.Scheduler.Parallelism < 1 {
			add("scheduler: parallelism must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
