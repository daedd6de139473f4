// Package engine runs the decision-to-execution cycle: collect signals,
// aggregate consensus, size through risk, execute, and track the position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftlabs/marginbot/internal/consensus"
	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/executor"
	"github.com/driftlabs/marginbot/internal/ledger"
	"github.com/driftlabs/marginbot/internal/metrics"
	"github.com/driftlabs/marginbot/internal/notify"
	"github.com/driftlabs/marginbot/internal/position"
	"github.com/driftlabs/marginbot/internal/risk"
	"github.com/driftlabs/marginbot/internal/source"
)

// Config tunes the decision cycle.
type Config struct {
	Symbols          []string
	CycleInterval    time.Duration
	SourceTimeout    time.Duration
	LockTTL          time.Duration
	VolatilityWindow int // closes used for the volatility estimate
}

// Engine wires the per-cycle pipeline together. One cycle per symbol per
// interval; a distributed lock keeps concurrent instances from racing on the
// same symbol.
type Engine struct {
	cfg        Config
	sources    *source.Registry
	aggregator *consensus.Aggregator
	risk       *risk.Manager
	breaker    *risk.Breaker
	exec       *executor.Engine
	positions  *position.Manager
	ledger     *ledger.Service
	prices     domain.PriceCache
	exchange   domain.Exchange
	locks      domain.LockManager
	notifier   *notify.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	halted atomic.Bool
}

// New creates an Engine. notifier and m may be nil in tests.
func New(
	cfg Config,
	sources *source.Registry,
	aggregator *consensus.Aggregator,
	riskMgr *risk.Manager,
	breaker *risk.Breaker,
	exec *executor.Engine,
	positions *position.Manager,
	ledgerSvc *ledger.Service,
	prices domain.PriceCache,
	exchange domain.Exchange,
	locks domain.LockManager,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		sources:    sources,
		aggregator: aggregator,
		risk:       riskMgr,
		breaker:    breaker,
		exec:       exec,
		positions:  positions,
		ledger:     ledgerSvc,
		prices:     prices,
		exchange:   exchange,
		locks:      locks,
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With(slog.String("component", "engine")),
	}
}

// Run starts the decision loop and the position exit monitor, blocking until
// ctx is cancelled or a sub-system fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		slog.Int("symbols", len(e.cfg.Symbols)),
		slog.Duration("cycle_interval", e.cfg.CycleInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := e.positions.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("position monitor: %w", err)
	})

	g.Go(func() error {
		err := e.cycleLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("decision loop: %w", err)
	})

	err := g.Wait()
	if err != nil {
		e.logger.Error("engine stopped with error", slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("engine stopped cleanly")
	return nil
}

// cycleLoop runs one decision loop per symbol. Each symbol ticks on its own
// goroutine so a slow cycle, such as an execution retrying into its budget,
// never delays another symbol's decisions. Symbols serialize only where they
// must: on the account state and the breaker.
func (e *Engine) cycleLoop(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range e.cfg.Symbols {
		symbol := symbol
		g.Go(func() error {
			return e.symbolLoop(ctx, symbol)
		})
	}
	return g.Wait()
}

func (e *Engine) symbolLoop(ctx context.Context, symbol string) error {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunCycle(ctx, symbol); err != nil {
				e.logger.Error("cycle failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunCycle executes one decision cycle for a symbol. Returns nil when the
// cycle completes without a trade (hold, quorum miss, lock held elsewhere).
func (e *Engine) RunCycle(ctx context.Context, symbol string) error {
	if e.halted.Load() {
		return nil
	}

	unlock, err := e.locks.Acquire(ctx, "cycle:"+symbol, e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			e.logger.Debug("cycle lock held elsewhere", slog.String("symbol", symbol))
			return nil
		}
		return fmt.Errorf("engine: acquire lock: %w", err)
	}
	defer unlock()

	started := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.CycleDuration.WithLabelValues(symbol).Observe(time.Since(started).Seconds())
		}
	}()

	mctx, err := e.marketContext(ctx, symbol)
	if err != nil {
		return fmt.Errorf("engine: market context %s: %w", symbol, err)
	}

	// Refresh the breaker from the latest replayed state so a day rollover
	// clears a daily trip without operator action.
	state := e.ledger.Snapshot()
	e.breaker.Evaluate(risk.BreakerInput{
		DailyRealizedPnL:  state.DailyRealizedPnL,
		EquityAtDayStart:  state.EquityAtDayStart,
		ConsecutiveLosses: state.ConsecutiveLosses,
		Day:               state.Day,
	})
	if e.metrics != nil {
		e.metrics.ObserveAccount(state)
		e.metrics.SetBreakerState(string(e.breaker.Status()))
	}

	signals := e.sources.Collect(ctx, mctx, e.cfg.SourceTimeout, e.logger)
	intent, ok := e.aggregator.Aggregate(symbol, signals)
	if !ok || intent.Direction == domain.DirectionHold {
		return nil
	}

	// A strong opposing consensus closes the standing position before any
	// new entry is considered.
	if err := e.positions.CloseOnReversal(ctx, symbol, intent.Direction); err != nil {
		e.logger.Error("reversal close failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	stats := domain.SymbolStats{
		Volatility:        mctx.Volatility,
		HistoricalWinRate: e.ledger.WinRate(symbol),
	}
	decision, err := e.risk.Evaluate(ctx, intent, e.ledger.Snapshot(), stats, mctx.LastPrice)
	if err != nil {
		return fmt.Errorf("engine: risk evaluate %s: %w", symbol, err)
	}
	if decision.Rejected {
		return e.recordRejection(ctx, intent, decision.Reason)
	}

	fill, err := e.exec.Execute(ctx, decision)
	if err != nil {
		e.logger.Error("execution failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return e.recordRejection(ctx, intent, domain.RejectExecutionFailure)
	}
	if e.metrics != nil {
		e.metrics.OrdersTotal.WithLabelValues(symbol, string(decision.Direction)).Inc()
	}

	pos, err := e.positions.Open(ctx, decision, fill)
	if err != nil {
		return fmt.Errorf("engine: open position %s: %w", symbol, err)
	}
	e.logger.Info("position opened",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("size", pos.Size),
		slog.Float64("leverage", pos.Leverage),
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("slippage", fill.Slippage),
	)
	if e.notifier != nil {
		if err := e.notifier.PositionOpened(ctx, pos); err != nil {
			e.logger.Warn("notify position opened", slog.String("error", err.Error()))
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveAccount(e.ledger.Snapshot())
	}
	return nil
}

func (e *Engine) recordRejection(ctx context.Context, intent domain.TradeIntent, reason domain.RejectionReason) error {
	e.logger.Info("intent rejected",
		slog.String("symbol", intent.Symbol),
		slog.String("direction", string(intent.Direction)),
		slog.String("reason", string(reason)),
	)
	if e.metrics != nil {
		e.metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()
	}
	rej := domain.Rejection{
		Symbol:     intent.Symbol,
		Direction:  intent.Direction,
		Confidence: intent.AggregateConfidence,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.ledger.RecordRejection(ctx, rej); err != nil {
		return fmt.Errorf("engine: record rejection: %w", err)
	}
	if e.notifier != nil {
		if err := e.notifier.Rejected(ctx, rej); err != nil {
			e.logger.Warn("notify rejection", slog.String("error", err.Error()))
		}
	}
	return nil
}

// marketContext snapshots the data every source sees this cycle. The cache
// stores closes newest first; sources expect oldest first.
func (e *Engine) marketContext(ctx context.Context, symbol string) (domain.MarketContext, error) {
	last, _, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.MarketContext{}, err
		}
		last, err = e.exchange.GetTicker(ctx, symbol)
		if err != nil {
			return domain.MarketContext{}, err
		}
	}

	newest, err := e.prices.RecentCloses(ctx, symbol, e.cfg.VolatilityWindow)
	if err != nil {
		return domain.MarketContext{}, err
	}
	closes := make([]float64, len(newest))
	for i, c := range newest {
		closes[len(newest)-1-i] = c
	}

	return domain.MarketContext{
		Symbol:       symbol,
		LastPrice:    last,
		RecentCloses: closes,
		Volatility:   Volatility(closes),
	}, nil
}

// EmergencyStop halts submissions, trips the breaker manually and closes all
// open positions at market. It returns the number of positions that were open
// when the stop fired.
func (e *Engine) EmergencyStop(ctx context.Context) (int, error) {
	e.halted.Store(true)
	e.breaker.TripManual()
	if e.metrics != nil {
		e.metrics.SetBreakerState(string(e.breaker.Status()))
	}

	open, err := e.positions.OpenCount(ctx)
	if err != nil {
		e.logger.Error("emergency stop: count open positions", slog.String("error", err.Error()))
	}
	closeErr := e.positions.CloseAll(ctx)

	if e.notifier != nil {
		if err := e.notifier.EmergencyStopped(ctx, open); err != nil {
			e.logger.Warn("notify emergency stop", slog.String("error", err.Error()))
		}
	}
	if closeErr != nil {
		return open, fmt.Errorf("engine: emergency stop: %w", closeErr)
	}
	return open, nil
}

// ResetBreaker re-arms the breaker and resumes submissions. Daily and streak
// conditions are re-evaluated on the next cycle, so a reset during a losing
// day trips again immediately.
func (e *Engine) ResetBreaker(ctx context.Context) error {
	e.breaker.Reset()
	e.halted.Store(false)
	if e.metrics != nil {
		e.metrics.SetBreakerState(string(e.breaker.Status()))
	}
	return nil
}
