package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load merges the TOML file at path over Defaults, then applies LOTENGINE_*
// environment overrides. An empty path skips the file. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file. Unset or empty variables leave the field
// alone.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "LOTENGINE_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "LOTENGINE_DATABASE_URL") // alias
	setStr(&cfg.Database.Host, "LOTENGINE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "LOTENGINE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "LOTENGINE_DATABASE_NAME")
	setStr(&cfg.Database.User, "LOTENGINE_DATABASE_USER")
	setStr(&cfg.Database.Password, "LOTENGINE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "LOTENGINE_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "LOTENGINE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "LOTENGINE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.PreferIPv4, "LOTENGINE_DATABASE_PREFER_IPV4")
	setBool(&cfg.Database.RunMigrations, "LOTENGINE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LOTENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LOTENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOTENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOTENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LOTENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LOTENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LOTENGINE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LOTENGINE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LOTENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LOTENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOTENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOTENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOTENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOTENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LOTENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LOTENGINE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "LOTENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LOTENGINE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LOTENGINE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "LOTENGINE_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookKey, "LOTENGINE_NOTIFY_WEBHOOK_KEY")
	setStr(&cfg.Notify.WebhookSecret, "LOTENGINE_NOTIFY_WEBHOOK_SECRET")
	setStr(&cfg.Notify.TelegramToken, "LOTENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LOTENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LOTENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LOTENGINE_NOTIFY_EVENTS")

	// ── Payment ──
	setStr(&cfg.Payment.BaseURL, "LOTENGINE_PAYMENT_BASE_URL")
	setStr(&cfg.Payment.APIKey, "LOTENGINE_PAYMENT_API_KEY")
	setStr(&cfg.Payment.Secret, "LOTENGINE_PAYMENT_SECRET")
	setDuration(&cfg.Payment.Timeout, "LOTENGINE_PAYMENT_TIMEOUT")

	// ── Settlement ──
	setInt64(&cfg.Settlement.ShippingCents, "LOTENGINE_SETTLEMENT_SHIPPING_CENTS")
	setDecimal(&cfg.Settlement.TaxRate, "LOTENGINE_SETTLEMENT_TAX_RATE")
	setStr(&cfg.Settlement.Currency, "LOTENGINE_SETTLEMENT_CURRENCY")

	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.Interval, "LOTENGINE_LIFECYCLE_INTERVAL")
	setStr(&cfg.Lifecycle.EndPolicy, "LOTENGINE_LIFECYCLE_END_POLICY")

	// ── Dispatch ──
	setDuration(&cfg.Dispatch.Interval, "LOTENGINE_DISPATCH_INTERVAL")
	setInt(&cfg.Dispatch.BatchSize, "LOTENGINE_DISPATCH_BATCH_SIZE")
	setInt(&cfg.Dispatch.MaxAttempts, "LOTENGINE_DISPATCH_MAX_ATTEMPTS")

	// ── Bidding ──
	setDuration(&cfg.Bidding.LockTTL, "LOTENGINE_BIDDING_LOCK_TTL")
	setDuration(&cfg.Bidding.LockWait, "LOTENGINE_BIDDING_LOCK_WAIT")
	setInt(&cfg.Bidding.RateLimit, "LOTENGINE_BIDDING_RATE_LIMIT")
	setDuration(&cfg.Bidding.RateLimitWindow, "LOTENGINE_BIDDING_RATE_LIMIT_WINDOW")

	// ── Top-level ──
	setStr(&cfg.StoreDriver, "LOTENGINE_STORE_DRIVER")
	setStr(&cfg.SeedFile, "LOTENGINE_SEED_FILE")
	setStr(&cfg.Mode, "LOTENGINE_MODE")
	setStr(&cfg.LogLevel, "LOTENGINE_LOG_LEVEL")
}

// Typed env-var helpers. Malformed values are ignored so the TOML or
// default value stands.

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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
