package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/driftlabs/marginbot/internal/blob/s3"
	"github.com/driftlabs/marginbot/internal/cache/redis"
	"github.com/driftlabs/marginbot/internal/config"
	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/exchange"
	"github.com/driftlabs/marginbot/internal/metrics"
	"github.com/driftlabs/marginbot/internal/notify"
	"github.com/driftlabs/marginbot/internal/store/memory"
	"github.com/driftlabs/marginbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds its services on.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LedgerStore   domain.LedgerStore
	PositionStore domain.PositionStore

	// Caches and coordination
	Prices domain.PriceCache
	Locks  domain.LockManager
	Bus    domain.EventBus

	// Venue
	Exchange domain.Exchange

	// Cold storage (nil unless S3 is enabled)
	Archiver *s3blob.LedgerArchiver

	// Observability and alerting
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// hasPostgres reports whether a database connection is configured. Without
// one the bot falls back to in-memory stores, which only makes sense for
// paper trading.
func hasPostgres(cfg *config.Config) bool {
	return cfg.Postgres.DSN != "" || cfg.Postgres.Host != ""
}

// paperExchange reports whether the simulated venue should be used.
func paperExchange(cfg *config.Config) bool {
	return cfg.Mode == "paper" || cfg.Exchange.Driver == "paper"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL, or in-memory stores for standalone paper runs ---
	if hasPostgres(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
	} else {
		if cfg.Mode == "live" {
			cleanup()
			return nil, nil, fmt.Errorf("wire: live mode requires a postgres connection")
		}
		logger.Warn("no postgres configured, using in-memory stores")
		deps.LedgerStore = memory.NewLedgerStore()
		deps.PositionStore = memory.NewPositionStore()
	}

	// --- Redis ---
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

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)

	// --- Exchange ---
	if paperExchange(cfg) {
		deps.Exchange = exchange.NewPaper(deps.Prices, exchange.PaperConfig{
			InitialBalance: cfg.Engine.InitialEquity,
			SlippageBps:    cfg.Exchange.PaperSlippageBps,
			FeeBps:         cfg.Exchange.PaperFeeBps,
		}, logger)
	} else {
		deps.Exchange = exchange.NewBinance(exchange.BinanceConfig{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Testnet:   cfg.Exchange.Testnet,
		}, logger)
	}

	// --- S3 cold storage ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewLedgerArchiver(
			s3blob.NewWriter(s3Client),
			deps.LedgerStore,
			retention,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = metrics.New(deps.Registry)

	return deps, cleanup, nil
}
