package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EXITGUARD_* environment variable overrides, and
// returns the final Config. A missing file is not an error; defaults and the
// environment are used instead. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EXITGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EXITGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EXITGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EXITGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EXITGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EXITGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EXITGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EXITGUARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EXITGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EXITGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EXITGUARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "EXITGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EXITGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EXITGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EXITGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EXITGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EXITGUARD_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "EXITGUARD_REDIS_PRICE_TTL")
	setInt64(&cfg.Redis.StreamMax, "EXITGUARD_REDIS_STREAM_MAX_LEN")

	// ── ClickHouse ──
	setStr(&cfg.ClickHouse.DSN, "EXITGUARD_CLICKHOUSE_DSN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "EXITGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EXITGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "EXITGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EXITGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EXITGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EXITGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EXITGUARD_S3_FORCE_PATH_STYLE")

	// ── Quotes ──
	setStr(&cfg.Quotes.BaseURL, "EXITGUARD_QUOTES_BASE_URL")
	setStr(&cfg.Quotes.UserAgent, "EXITGUARD_QUOTES_USER_AGENT")
	setDuration(&cfg.Quotes.Timeout, "EXITGUARD_QUOTES_TIMEOUT")
	setInt(&cfg.Quotes.RateLimit, "EXITGUARD_QUOTES_RATE_LIMIT")
	setDuration(&cfg.Quotes.RateWindow, "EXITGUARD_QUOTES_RATE_WINDOW")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "EXITGUARD_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.Concurrency, "EXITGUARD_MONITOR_CONCURRENCY")
	setDuration(&cfg.Monitor.LockTTL, "EXITGUARD_MONITOR_LOCK_TTL")
	setDuration(&cfg.Monitor.MaxPriceAge, "EXITGUARD_MONITOR_MAX_PRICE_AGE")
	setStr(&cfg.Monitor.Owner, "EXITGUARD_MONITOR_OWNER")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "EXITGUARD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "EXITGUARD_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "EXITGUARD_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "EXITGUARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "EXITGUARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "EXITGUARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "EXITGUARD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "EXITGUARD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EXITGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EXITGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EXITGUARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EXITGUARD_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.DedupWindow, "EXITGUARD_NOTIFY_DEDUP_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "EXITGUARD_MODE")
	setStr(&cfg.LogLevel, "EXITGUARD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

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

func setDuration(dst *Duration, key string) {
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
