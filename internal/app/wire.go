package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/exitguard/internal/blob/s3"
	"github.com/alanyoungcy/exitguard/internal/cache/memory"
	"github.com/alanyoungcy/exitguard/internal/cache/redis"
	"github.com/alanyoungcy/exitguard/internal/config"
	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/notify"
	"github.com/alanyoungcy/exitguard/internal/platform/yahoo"
	"github.com/alanyoungcy/exitguard/internal/server/handler"
	"github.com/alanyoungcy/exitguard/internal/service"
	"github.com/alanyoungcy/exitguard/internal/store/clickhouse"
	memstore "github.com/alanyoungcy/exitguard/internal/store/memory"
	"github.com/alanyoungcy/exitguard/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore
	Journal       domain.EvaluationJournal

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archive.enabled is set.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Services
	Prices    *service.PriceService
	Positions *service.PositionService
	Monitor   *service.Monitor

	// HealthChecks probe each external backend for GET /api/health.
	HealthChecks map[string]handler.Check
}

func isDryRun(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Mode, "dry_run")
}

// Wire constructs all concrete implementations from cfg and returns them
// together with a cleanup function that releases every opened connection.
// Dry-run mode uses the in-memory stores and caches and sends no
// notifications.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Check)}
	dryRun := isDryRun(cfg)

	// --- PostgreSQL ---
	if cfg.NeedsPostgres() {
		pgClient, err := openPostgres(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: applied migrations",
					slog.String("migrations", strings.Join(applied, ",")),
				)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		deps.PositionStore = memstore.NewPositionStore()
		deps.AuditStore = memstore.NewAuditStore()
	}

	// --- Redis ---
	if dryRun {
		deps.PriceCache = memory.NewPriceCache()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	} else {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMax)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- ClickHouse evaluation journal ---
	if cfg.ClickHouse.DSN != "" && !dryRun {
		conn, journal, err := openJournal(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		deps.Journal = journal
		deps.HealthChecks["clickhouse"] = conn.Ping
	} else {
		deps.Journal = memstore.NewEvaluationJournal(0)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfigFrom(cfg.S3))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.PositionStore, deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if !dryRun {
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(
				notify.DefaultTelegramAPI,
				cfg.Notify.TelegramToken,
				cfg.Notify.TelegramChatID,
			))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithDedup(cfg.Notify.DedupWindow.Duration)

	// --- Services ---
	quotes := yahoo.NewClient(yahoo.Config{
		BaseURL:   cfg.Quotes.BaseURL,
		UserAgent: cfg.Quotes.UserAgent,
		Timeout:   cfg.Quotes.Timeout.Duration,
	})
	deps.Prices = service.NewPriceService(
		quotes, deps.PriceCache, deps.RateLimiter, deps.SignalBus,
		cfg.Quotes.RateLimit, cfg.Quotes.RateWindow.Duration, logger,
	)
	deps.Positions = service.NewPositionService(
		deps.PositionStore, deps.AuditStore, deps.SignalBus, deps.Notifier, logger,
	)
	deps.Monitor = service.NewMonitor(
		deps.Positions, deps.Prices, deps.LockManager, deps.Journal, deps.Notifier,
		service.MonitorConfig{
			Interval:    cfg.Monitor.Interval.Duration,
			Concurrency: cfg.Monitor.Concurrency,
			LockTTL:     cfg.Monitor.LockTTL.Duration,
			MaxPriceAge: cfg.Monitor.MaxPriceAge.Duration,
			Owner:       cfg.Monitor.Owner,
		},
		logger,
	)

	return deps, cleanup, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return pgClient, nil
}

func openJournal(ctx context.Context, dsn string) (*clickhouse.Conn, *clickhouse.EvaluationJournal, error) {
	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	journal := clickhouse.NewEvaluationJournal(conn)
	if err := journal.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, journal, nil
}
