package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftlabs/marginbot/internal/config"
	"github.com/driftlabs/marginbot/internal/consensus"
	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/engine"
	"github.com/driftlabs/marginbot/internal/executor"
	"github.com/driftlabs/marginbot/internal/feed"
	"github.com/driftlabs/marginbot/internal/ledger"
	"github.com/driftlabs/marginbot/internal/position"
	"github.com/driftlabs/marginbot/internal/risk"
	"github.com/driftlabs/marginbot/internal/server"
	"github.com/driftlabs/marginbot/internal/server/handler"
	"github.com/driftlabs/marginbot/internal/source"
)

const defaultStreamURL = "wss://fstream.binance.com/stream"

// RunPipeline builds the trading pipeline on the wired dependencies and runs
// every sub-system until ctx is cancelled: the market data feed, the decision
// engine with its position monitor, the admin API, and the ledger archiver.
// Live and paper mode share this path; only the venue implementation differs.
func (a *App) RunPipeline(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	// Ledger replay first: every downstream component starts from the
	// replayed account state, not from venue queries.
	ledgerSvc, err := ledger.NewService(ctx, deps.LedgerStore, cfg.Engine.InitialEquity, a.logger)
	if err != nil {
		return fmt.Errorf("app: ledger replay: %w", err)
	}
	state := ledgerSvc.Snapshot()
	a.logger.Info("ledger replayed",
		slog.Float64("equity", state.Equity),
		slog.Float64("available_margin", state.AvailableMargin),
		slog.Int("open_positions", len(state.OpenPositionIDs)),
		slog.Int("consecutive_losses", state.ConsecutiveLosses),
	)

	breaker := risk.NewBreaker(risk.BreakerConfig{
		DailyLossLimit:       cfg.Breaker.DailyLossLimit,
		MaxConsecutiveLosses: cfg.Breaker.MaxConsecutiveLosses,
	}, risk.BreakerInput{
		DailyRealizedPnL:  state.DailyRealizedPnL,
		EquityAtDayStart:  state.EquityAtDayStart,
		ConsecutiveLosses: state.ConsecutiveLosses,
		Day:               state.Day,
	}, a.logger)
	breaker.OnTrip(func(status risk.BreakerStatus) {
		deps.Metrics.SetBreakerState(string(status))
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Notifier.BreakerTripped(notifyCtx, string(status), "new submissions blocked"); err != nil {
			a.logger.Warn("notify breaker trip", slog.String("error", err.Error()))
		}
	})
	deps.Metrics.SetBreakerState(string(breaker.Status()))

	riskMgr := risk.NewManager(risk.Config{
		BaseRiskFraction:      cfg.Risk.BaseRiskFraction,
		MaxPositionFraction:   cfg.Risk.MaxPositionFraction,
		BaseLeverage:          cfg.Risk.BaseLeverage,
		MaxLeverage:           cfg.Risk.MaxLeverage,
		StopLossPct:           cfg.Risk.StopLossPct,
		TakeProfitPct:         cfg.Risk.TakeProfitPct,
		MinStopLossPct:        cfg.Risk.MinStopLossPct,
		MaxStopLossPct:        cfg.Risk.MaxStopLossPct,
		LiquidationSafetyPct:  cfg.Risk.LiquidationSafetyPct,
		MinOrderSize:          cfg.Risk.MinOrderSize,
		MaxPositionsPerSymbol: cfg.Risk.MaxPositionsPerSymbol,
		MaxOpenPositions:      cfg.Risk.MaxOpenPositions,
		ConfidenceThreshold:   cfg.Consensus.ConfidenceThreshold,
	}, breaker, deps.PositionStore, a.logger)

	sources, weights, err := buildSources(cfg)
	if err != nil {
		return fmt.Errorf("app: build sources: %w", err)
	}
	sources.OnFailure(func(sourceID string) {
		deps.Metrics.SourceFailures.WithLabelValues(sourceID).Inc()
	})
	aggregator := consensus.New(consensus.Config{
		Weights:             weights,
		ConfidenceThreshold: cfg.Consensus.ConfidenceThreshold,
		MinQuorum:           cfg.Consensus.MinQuorum,
	}, a.logger)

	exec := executor.NewEngine(deps.Exchange, executor.Config{
		OrderType:   orderType(cfg.Executor.OrderType),
		MaxAttempts: cfg.Executor.RetryAttempts,
		MaxElapsed:  cfg.Executor.RetryMaxElapsed.Duration,
		Backoff: executor.Backoff{
			Min:    cfg.Executor.RetryBaseDelay.Duration,
			Max:    cfg.Executor.RetryMaxDelay.Duration,
			Factor: 2.0,
			Jitter: 0.2,
		},
	}, a.logger)
	exec.OnRetry(deps.Metrics.OrderRetries.Inc)

	positions := position.NewManager(
		deps.PositionStore,
		ledgerSvc,
		deps.Exchange,
		deps.Prices,
		deps.Bus,
		position.Config{
			PollInterval:       cfg.Positions.PollInterval.Duration,
			MaxHoldingDuration: cfg.Positions.MaxHoldingDuration.Duration,
			FeeRate:            cfg.Exchange.PaperFeeBps / 10_000,
		},
		a.logger,
	)
	positions.SetNotifier(deps.Notifier)

	eng := engine.New(engine.Config{
		Symbols:       cfg.Engine.Symbols,
		CycleInterval: cfg.Engine.CycleInterval.Duration,
		SourceTimeout: cfg.Engine.SignalTimeout.Duration,
	}, sources, aggregator, riskMgr, breaker, exec, positions, ledgerSvc,
		deps.Prices, deps.Exchange, deps.Locks, deps.Notifier, deps.Metrics, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// Market data feed.
	wsURL := cfg.Exchange.WSHost
	if wsURL == "" {
		wsURL = defaultStreamURL
	}
	wsFeed := feed.NewBinanceWSFeed(wsURL, cfg.Engine.Symbols, deps.Prices, a.logger)
	g.Go(func() error {
		err := wsFeed.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("market data feed: %w", err)
	})

	// Decision engine + position monitor.
	g.Go(func() error {
		return eng.Run(ctx)
	})

	// Admin API.
	if cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			APIKey:      cfg.Server.APIKey,
			CORSOrigins: cfg.Server.CORSOrigins,
		}, server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Status: handler.NewStatusHandler(ledgerSvc, breaker, deps.PositionStore, cfg.Mode, a.logger),
			Admin:  handler.NewAdminHandler(eng, a.logger),
		}, deps.Registry, a.logger)

		g.Go(func() error {
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			select {
			case err := <-errCh:
				return fmt.Errorf("admin server: %w", err)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		})
	}

	// Ledger cold-storage archiver.
	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.RunLoop(ctx, 24*time.Hour)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ledger archiver: %w", err)
		})
	}

	return g.Wait()
}

// orderType maps the configured string onto the domain enum, defaulting to
// market orders.
func orderType(s string) domain.OrderType {
	if s == string(domain.OrderTypeLimit) {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

// buildSources constructs the configured signal sources and their weights.
func buildSources(cfg *config.Config) (*source.Registry, map[string]float64, error) {
	registry := source.NewRegistry()
	weights := make(map[string]float64, len(cfg.Sources))

	for _, sc := range cfg.Sources {
		switch sc.Type {
		case "momentum":
			registry.Register(source.NewMomentum(sc.ID, sc.FastSMA, sc.SlowSMA))
		case "sentiment", "model":
			registry.Register(source.NewRemote(sc.ID, sc.URL, sc.APIKey))
		default:
			return nil, nil, fmt.Errorf("unknown source type %q", sc.Type)
		}
		weights[sc.ID] = sc.Weight
	}
	return registry, weights, nil
}
