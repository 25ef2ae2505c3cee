// Package config defines the engine configuration: a TOML file over
// Defaults, then LOTENGINE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Payment    PaymentConfig    `toml:"payment"`
	Settlement SettlementConfig `toml:"settlement"`
	Lifecycle  LifecycleConfig  `toml:"lifecycle"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Bidding    BiddingConfig    `toml:"bidding"`

	// StoreDriver selects the repository: "postgres" or "memory". The
	// memory store runs one transaction at a time across all lots, so bids
	// on different lots queue behind each other; use it for local runs and
	// tests, not for load.
	StoreDriver string `toml:"store_driver"`
	// SeedFile is a JSON fixture loaded into the memory store at startup.
	SeedFile string `toml:"seed_file"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	PreferIPv4    bool   `toml:"prefer_ipv4"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks,
// pub/sub and rate limiting are process-local.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds the archive bucket settings.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey is the shared key the auth gateway presents. Empty disables
	// the check.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification sender settings. Senders with empty
// credentials are not registered.
type NotifyConfig struct {
	WebhookURL        string   `toml:"webhook_url"`
	WebhookKey        string   `toml:"webhook_key"`
	WebhookSecret     string   `toml:"webhook_secret"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// PaymentConfig points at the payment collaborator.
type PaymentConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Secret  string   `toml:"secret"`
	Timeout duration `toml:"timeout"`
}

// SettlementConfig prices won lots. TaxRate is a decimal string, e.g. "0.08".
type SettlementConfig struct {
	ShippingCents int64           `toml:"shipping_cents"`
	TaxRate       decimal.Decimal `toml:"tax_rate"`
	Currency      string          `toml:"currency"`
}

// LifecycleConfig controls the status sweep.
type LifecycleConfig struct {
	Interval duration `toml:"interval"`
	// EndPolicy is "extended" or "nominal".
	EndPolicy string `toml:"end_policy"`
}

// DispatchConfig controls outbox delivery.
type DispatchConfig struct {
	Interval    duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	MaxAttempts int      `toml:"max_attempts"`
}

// BiddingConfig controls bid admission.
type BiddingConfig struct {
	LockTTL         duration `toml:"lock_ttl"`
	LockWait        duration `toml:"lock_wait"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// duration is a time.Duration that decodes from strings like "60s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config usable for local development.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lotengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "lotengine",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "lotengine-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"outbid_notify", "winner_notify", "auction_ended"},
		},
		Payment: PaymentConfig{
			BaseURL: "http://localhost:8100",
			Timeout: duration{15 * time.Second},
		},
		Settlement: SettlementConfig{
			ShippingCents: 1500,
			TaxRate:       decimal.RequireFromString("0.08"),
			Currency:      "usd",
		},
		Lifecycle: LifecycleConfig{
			Interval:  duration{60 * time.Second},
			EndPolicy: "extended",
		},
		Dispatch: DispatchConfig{
			Interval:    duration{2 * time.Second},
			BatchSize:   100,
			MaxAttempts: 10,
		},
		Bidding: BiddingConfig{
			LockTTL:         duration{10 * time.Second},
			LockWait:        duration{2 * time.Second},
			RateLimit:       30,
			RateLimitWindow: duration{time.Minute},
		},
		StoreDriver: "postgres",
		Mode:        "full",
		LogLevel:    "info",
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.StoreDriver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if c.Mode != "full" {
			errs = append(errs, "store_driver: memory requires mode full, the api and worker processes would not share state")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store_driver %q (valid: postgres, memory)", c.StoreDriver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Mode != "full" {
		errs = append(errs, "redis: must be enabled when api and worker run as separate processes")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Mode != "api" && c.Payment.BaseURL == "" {
		errs = append(errs, "payment: base_url must not be empty")
	}
	if c.Payment.Timeout.Duration <= 0 {
		errs = append(errs, "payment: timeout must be > 0")
	}

	if c.Settlement.ShippingCents < 0 {
		errs = append(errs, "settlement: shipping_cents must be >= 0")
	}
	if c.Settlement.TaxRate.IsNegative() || c.Settlement.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("settlement: tax_rate must be in [0, 1), got %s", c.Settlement.TaxRate))
	}
	if len(c.Settlement.Currency) != 3 {
		errs = append(errs, fmt.Sprintf("settlement: currency must be an ISO 4217 code, got %q", c.Settlement.Currency))
	}

	if c.Lifecycle.Interval.Duration <= 0 {
		errs = append(errs, "lifecycle: interval must be > 0")
	}
	if c.Lifecycle.EndPolicy != "extended" && c.Lifecycle.EndPolicy != "nominal" {
		errs = append(errs, fmt.Sprintf("lifecycle: unknown end_policy %q (valid: extended, nominal)", c.Lifecycle.EndPolicy))
	}

	if c.Dispatch.Interval.Duration <= 0 {
		errs = append(errs, "dispatch: interval must be > 0")
	}
	if c.Dispatch.BatchSize < 1 {
		errs = append(errs, "dispatch: batch_size must be >= 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch: max_attempts must be >= 1")
	}

	if c.Bidding.LockTTL.Duration <= 0 {
		errs = append(errs, "bidding: lock_ttl must be > 0")
	}
	if c.Bidding.LockWait.Duration < 0 {
		errs = append(errs, "bidding: lock_wait must be >= 0")
	}
	if c.Bidding.RateLimit < 0 {
		errs = append(errs, "bidding: rate_limit must be >= 0")
	}
	if c.Bidding.RateLimit > 0 && c.Bidding.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "bidding: rate_limit_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %d validation error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}
