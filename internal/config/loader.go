package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WAGERD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WAGERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Authority ──
	setStr(&cfg.Authority.PrivateKey, "WAGERD_AUTHORITY_PRIVATE_KEY")
	setStr(&cfg.Authority.EncryptedKeyPath, "WAGERD_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "WAGERD_AUTHORITY_KEY_PASSWORD")
	setStringSlice(&cfg.Authority.Addresses, "WAGERD_AUTHORITY_ADDRESSES")
	setStr(&cfg.Authority.FeeAccount, "WAGERD_AUTHORITY_FEE_ACCOUNT")

	// ── Ledger / Postgres ──
	setStr(&cfg.Ledger.Backend, "WAGERD_LEDGER_BACKEND")
	setStr(&cfg.Postgres.DSN, "WAGERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGERD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGERD_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnMaxLifetime, "WAGERD_POSTGRES_CONN_MAX_LIFETIME")
	setBool(&cfg.Postgres.RunMigrations, "WAGERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WAGERD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WAGERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGERD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "WAGERD_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.MarketTTL, "WAGERD_REDIS_MARKET_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "WAGERD_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WAGERD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WAGERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGERD_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "WAGERD_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "WAGERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGERD_S3_FORCE_PATH_STYLE")

	// ── Feeds ──
	setStr(&cfg.Feeds.RTDSURL, "WAGERD_FEEDS_RTDS_URL")
	setStringSlice(&cfg.Feeds.Symbols, "WAGERD_FEEDS_SYMBOLS")
	setDuration(&cfg.Feeds.MaxStaleness, "WAGERD_FEEDS_MAX_STALENESS")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "WAGERD_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.Interval, "WAGERD_SCHEDULER_INTERVAL")
	setInt(&cfg.Scheduler.BatchSize, "WAGERD_SCHEDULER_BATCH_SIZE")
	setInt(&cfg.Scheduler.Parallelism, "WAGERD_SCHEDULER_PARALLELISM")
	setBool(&cfg.Scheduler.AutoResolve, "WAGERD_SCHEDULER_AUTO_RESOLVE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGERD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGERD_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.MaxClockSkew, "WAGERD_SERVER_MAX_CLOCK_SKEW")
	setInt(&cfg.Server.RateLimit, "WAGERD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WAGERD_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.ReplayProtection, "WAGERD_SERVER_REPLAY_PROTECTION")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGERD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGERD_MODE")
	setStr(&cfg.LogLevel, "WAGERD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
