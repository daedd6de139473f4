// Package position owns open positions: monitoring price against the exit
// levels, enforcing the maximum holding duration, and driving the
// ledger-then-state close sequence.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/ledger"
	"github.com/driftlabs/marginbot/internal/notify"
)

// Config holds the monitor parameters.
type Config struct {
	PollInterval       time.Duration
	MaxHoldingDuration time.Duration
	FeeRate            float64 // taker fee as a fraction of notional, applied on exit
}

// Manager is the exclusive owner of position state transitions.
type Manager struct {
	positions domain.PositionStore
	ledger    *ledger.Service
	exchange  domain.Exchange
	prices    domain.PriceCache
	bus       domain.EventBus   // optional
	notifier  *notify.Notifier  // optional
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// SetNotifier attaches operator notifications for closed trades. May be left
// unset in tests.
func (m *Manager) SetNotifier(n *notify.Notifier) {
	m.notifier = n
}

// NewManager creates a Manager with all required dependencies. bus may be nil
// when no event fan-out is wired (paper mode without redis).
func NewManager(
	positions domain.PositionStore,
	ledgerSvc *ledger.Service,
	exchange domain.Exchange,
	prices domain.PriceCache,
	bus domain.EventBus,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		positions: positions,
		ledger:    ledgerSvc,
		exchange:  exchange,
		prices:    prices,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "positions")),
		now:       time.Now,
	}
}

// SetClock replaces the time source. For tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Open creates a position from an accepted decision and its reconciled fill.
// The ledger entry is written before the position row so that replay always
// knows about the position even if the process dies mid-open.
func (m *Manager) Open(ctx context.Context, decision domain.RiskDecision, fill domain.ExecutionResult) (domain.Position, error) {
	pos := domain.Position{
		ID:               uuid.New().String(),
		Symbol:           decision.Symbol,
		Side:             decision.Direction,
		EntryPrice:       fill.FilledPrice,
		Size:             fill.FilledSize,
		Leverage:         decision.Leverage,
		StopLossPrice:    decision.StopLossPrice,
		TakeProfitPrice:  decision.TakeProfitPrice,
		LiquidationPrice: decision.LiquidationPrice,
		Status:           domain.PositionStatusOpen,
		OpenedAt:         m.now().UTC(),
	}

	if err := m.ledger.RecordOpen(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position: record open: %w", err)
	}
	if err := m.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position: create: %w", err)
	}

	m.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
		slog.Float64("leverage", pos.Leverage),
	)
	m.publish(ctx, "trade_opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"leverage":    pos.Leverage,
	})
	return pos, nil
}

// Run polls open positions on the configured interval until ctx is
// cancelled. Exit evaluation is idempotent, so overlapping or duplicate
// ticks are harmless.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("position monitor started",
		slog.Duration("poll_interval", m.cfg.PollInterval),
	)
	defer m.logger.Info("position monitor stopped")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.CheckExits(ctx); err != nil {
				m.logger.ErrorContext(ctx, "exit check failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// CheckExits evaluates every open position against its exit levels. Breach
// priority: liquidation first (irreversible and exchange-driven), then
// stop-loss, then take-profit, then the maximum holding duration.
func (m *Manager) CheckExits(ctx context.Context) error {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: get open: %w", err)
	}

	now := m.now().UTC()
	for _, pos := range open {
		price, err := m.currentPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.WarnContext(ctx, "price unavailable, skipping position",
				slog.String("position_id", pos.ID),
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		reason, triggered := exitReason(pos, price, now, m.cfg.MaxHoldingDuration)
		if !triggered {
			continue
		}
		// A ledger write failure leaves the position OPEN; the next tick
		// re-evaluates and retries the exit.
		if err := m.Close(ctx, pos, price, reason); err != nil {
			m.logger.ErrorContext(ctx, "exit failed, will retry",
				slog.String("position_id", pos.ID),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// exitReason returns the first breached exit condition in priority order.
func exitReason(pos domain.Position, price float64, now time.Time, maxHolding time.Duration) (domain.ExitReason, bool) {
	long := pos.Side == domain.DirectionBuy

	breachedDown := func(level float64) bool { return level > 0 && price <= level }
	breachedUp := func(level float64) bool { return level > 0 && price >= level }

	if (long && breachedDown(pos.LiquidationPrice)) || (!long && breachedUp(pos.LiquidationPrice)) {
		return domain.ExitLiquidation, true
	}
	if (long && breachedDown(pos.StopLossPrice)) || (!long && breachedUp(pos.StopLossPrice)) {
		return domain.ExitStopLoss, true
	}
	if (long && breachedUp(pos.TakeProfitPrice)) || (!long && breachedDown(pos.TakeProfitPrice)) {
		return domain.ExitTakeProfit, true
	}
	if maxHolding > 0 && now.Sub(pos.OpenedAt) >= maxHolding {
		return domain.ExitMaxHolding, true
	}
	return "", false
}

// Close exits a position. Liquidations are exchange-driven so no close order
// is sent; every other reason closes on the venue first. The trade record is
// written to the ledger before any state is updated, and a position already
// closed in the ledger is only reconciled, never re-recorded.
func (m *Manager) Close(ctx context.Context, pos domain.Position, markPrice float64, reason domain.ExitReason) error {
	// Idempotence guard across the ledger/store gap: if the ledger no longer
	// lists the position as open, the trade is already recorded and only the
	// store row needs reconciling.
	if !m.ledgerOpen(pos.ID) {
		_, err := m.positions.Close(ctx, pos.ID, terminalStatus(reason), markPrice, pos.PnLAt(markPrice), m.now().UTC())
		return err
	}

	exitPrice := markPrice
	fees := pos.Size * m.cfg.FeeRate
	if reason == domain.ExitLiquidation {
		exitPrice = pos.LiquidationPrice
	} else {
		state, err := m.exchange.ClosePosition(ctx, pos)
		if err != nil {
			return fmt.Errorf("position: close on exchange: %w", err)
		}
		if state.FilledPrice > 0 {
			exitPrice = state.FilledPrice
		}
		if state.Fee > 0 {
			fees = state.Fee
		}
	}

	gross := pos.PnLAt(exitPrice)
	if reason == domain.ExitLiquidation {
		// Isolated margin: a liquidation burns the full collateral.
		gross = -pos.Margin()
		fees = 0
	}
	realized := gross - fees

	now := m.now().UTC()
	trade := domain.Trade{
		ID:          uuid.New().String(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Size:        pos.Size,
		Leverage:    pos.Leverage,
		Fees:        fees,
		RealizedPnL: realized,
		ExitReason:  reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}

	if err := m.ledger.RecordTrade(ctx, trade); err != nil {
		return fmt.Errorf("position: record trade: %w", err)
	}

	status := terminalStatus(reason)
	if _, err := m.positions.Close(ctx, pos.ID, status, exitPrice, realized, now); err != nil {
		// The trade is in the ledger; the next tick reconciles the store via
		// the ledgerOpen guard above.
		m.logger.ErrorContext(ctx, "store close failed after ledger write",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realized),
	)
	m.publish(ctx, "trade_closed", map[string]any{
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"exit_reason":  string(reason),
		"exit_price":   exitPrice,
		"realized_pnl": realized,
	})
	if m.notifier != nil {
		if err := m.notifier.TradeClosed(ctx, trade); err != nil {
			m.logger.WarnContext(ctx, "notify trade closed",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// CloseOnReversal exits open positions for symbol whose side opposes the new
// consensus direction.
func (m *Manager) CloseOnReversal(ctx context.Context, symbol string, newDirection domain.Direction) error {
	open, err := m.positions.GetOpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("position: get open for %s: %w", symbol, err)
	}
	for _, pos := range open {
		if pos.Side == newDirection {
			continue
		}
		price, err := m.currentPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("position: price for reversal exit: %w", err)
		}
		if err := m.Close(ctx, pos, price, domain.ExitSignalReversal); err != nil {
			return err
		}
	}
	return nil
}

// OpenCount returns the number of currently open positions.
func (m *Manager) OpenCount(ctx context.Context) (int, error) {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("position: get open: %w", err)
	}
	return len(open), nil
}

// CloseAll force-closes every open position. Used by the emergency stop.
func (m *Manager) CloseAll(ctx context.Context) error {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: get open: %w", err)
	}
	var firstErr error
	for _, pos := range open {
		price, err := m.currentPrice(ctx, pos.Symbol)
		if err != nil {
			price = pos.EntryPrice
		}
		if err := m.Close(ctx, pos, price, domain.ExitManual); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// currentPrice prefers the cache and falls back to a live ticker call.
func (m *Manager) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.prices != nil {
		if price, _, err := m.prices.GetPrice(ctx, symbol); err == nil && price > 0 {
			return price, nil
		}
	}
	price, err := m.exchange.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return price, nil
}

// ledgerOpen reports whether the ledger still lists the position as open.
func (m *Manager) ledgerOpen(id string) bool {
	for _, open := range m.ledger.Snapshot().OpenPositionIDs {
		if open == id {
			return true
		}
	}
	return false
}

func terminalStatus(reason domain.ExitReason) domain.PositionStatus {
	if reason == domain.ExitLiquidation {
		return domain.PositionStatusLiquidated
	}
	return domain.PositionStatusClosed
}

// publish emits a fire-and-forget event; failures never block trading.
func (m *Manager) publish(ctx context.Context, event string, fields map[string]any) {
	if m.bus == nil {
		return
	}
	fields["event"] = event
	payload, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, "events", payload); err != nil {
		m.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
