package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/lotengine/internal/blob/s3"
	memcache "github.com/alanyoungcy/lotengine/internal/cache/memory"
	"github.com/alanyoungcy/lotengine/internal/cache/redis"
	"github.com/alanyoungcy/lotengine/internal/config"
	"github.com/alanyoungcy/lotengine/internal/crypto"
	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/notify"
	"github.com/alanyoungcy/lotengine/internal/platform/payments"
	"github.com/alanyoungcy/lotengine/internal/server/handler"
	memstore "github.com/alanyoungcy/lotengine/internal/store/memory"
	"github.com/alanyoungcy/lotengine/internal/store/postgres"
)

// Dependencies bundles the concrete collaborators the run modes need. It
// is built by Wire and released by the cleanup function Wire returns.
type Dependencies struct {
	Repo  domain.Repository
	Audit domain.AuditStore

	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// Archiver is nil when s3.enabled is false.
	Archiver domain.Archiver
	Payments domain.PaymentGateway
	Notifier *notify.Notifier

	// Health holds one check per external backend for GET /api/health.
	Health map[string]handler.HealthCheck
}

// Wire builds every backend named by cfg. On error, whatever was already
// opened is closed before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- Repository ---
	switch cfg.StoreDriver {
	case "memory":
		store := memstore.New()
		if cfg.SeedFile != "" {
			n, err := store.LoadSeed(cfg.SeedFile)
			if err != nil {
				return fail(fmt.Errorf("wire: seed %s: %w", cfg.SeedFile, err))
			}
			logger.InfoContext(ctx, "memory store seeded",
				slog.String("file", cfg.SeedFile),
				slog.Int("records", n),
			)
		}
		deps.Repo = store
		deps.Audit = store
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:        cfg.Database.DSN,
			Host:       cfg.Database.Host,
			Port:       cfg.Database.Port,
			Database:   cfg.Database.Database,
			User:       cfg.Database.User,
			Password:   cfg.Database.Password,
			SSLMode:    cfg.Database.SSLMode,
			MaxConns:   cfg.Database.PoolMaxConns,
			MinConns:   cfg.Database.PoolMinConns,
			PreferIPv4: cfg.Database.PreferIPv4,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Repo = postgres.NewRepository(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pool.Ping
	}

	// --- Locks, bus, rate limiting ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled, locks and pub/sub are process-local")
		deps.Locks = memcache.NewLockManager()
		deps.Bus = memcache.NewBus()
		deps.Limiter = memcache.NewRateLimiter()
	}

	// --- Archive bucket ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Repo, deps.Audit, logger)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Payments ---
	var payAuth *crypto.HMACAuth
	if cfg.Payment.Secret != "" {
		payAuth = &crypto.HMACAuth{Key: cfg.Payment.APIKey, Secret: cfg.Payment.Secret}
	}
	// The HTTP timeout only backstops the capture deadline settlement applies.
	deps.Payments = payments.NewClient(cfg.Payment.BaseURL, payAuth, 2*cfg.Payment.Timeout.Duration)

	// --- Notifications ---
	senders, err := buildSenders(cfg.Notify)
	if err != nil {
		return fail(fmt.Errorf("wire: notify: %w", err))
	}
	if len(senders) == 0 {
		logger.WarnContext(ctx, "no notification senders configured, notifications are dropped")
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildSenders registers each sender whose credentials are present.
func buildSenders(cfg config.NotifyConfig) ([]notify.Sender, error) {
	var senders []notify.Sender
	if cfg.WebhookURL != "" {
		var auth *crypto.HMACAuth
		if cfg.WebhookSecret != "" {
			auth = &crypto.HMACAuth{Key: cfg.WebhookKey, Secret: cfg.WebhookSecret}
		}
		wh, err := notify.NewWebhookSender(cfg.WebhookURL, auth)
		if err != nil {
			return nil, err
		}
		senders = append(senders, wh)
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders, nil
}
