// Package risk sizes trade intents under leverage and enforces the
// capital-protection limits: margin availability, position caps, leverage
// ceilings, and the circuit breaker gate.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Config holds position sizing and leverage parameters.
type Config struct {
	BaseRiskFraction      float64
	MaxPositionFraction   float64
	BaseLeverage          float64
	MaxLeverage           float64
	StopLossPct           float64
	TakeProfitPct         float64
	MinStopLossPct        float64
	MaxStopLossPct        float64
	LiquidationSafetyPct  float64 // fraction of the liquidation distance reserved as safety margin
	MinOrderSize          float64
	MaxPositionsPerSymbol int
	MaxOpenPositions      int
	ConfidenceThreshold   float64 // shared with the consensus aggregator
}

// BreakerState exposes the circuit breaker to the manager without importing
// its full surface.
type BreakerState interface {
	Tripped() bool
}

// Manager turns trade intents into sized, leveraged, protected decisions.
type Manager struct {
	cfg       Config
	breaker   BreakerState
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewManager creates a Manager with all required dependencies.
func NewManager(cfg Config, breaker BreakerState, positions domain.PositionStore, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		breaker:   breaker,
		positions: positions,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// Evaluate derives a RiskDecision from an intent, the current account state,
// per-symbol stats, and an entry price hint. Rejections carry the first
// violated limit as a machine-readable reason; they are decisions, not
// errors.
func (m *Manager) Evaluate(ctx context.Context, intent domain.TradeIntent, account domain.AccountState, stats domain.SymbolStats, entryPrice float64) (domain.RiskDecision, error) {
	now := time.Now().UTC()
	reject := func(reason domain.RejectionReason) domain.RiskDecision {
		m.logger.WarnContext(ctx, "intent rejected",
			slog.String("symbol", intent.Symbol),
			slog.String("direction", string(intent.Direction)),
			slog.String("reason", string(reason)),
		)
		return domain.RiskDecision{
			Symbol:    intent.Symbol,
			Direction: intent.Direction,
			Rejected:  true,
			Reason:    reason,
			CreatedAt: now,
		}
	}

	// Circuit breaker gate comes first: a tripped breaker rejects every
	// intent regardless of confidence.
	if m.breaker.Tripped() {
		return reject(domain.RejectCircuitBreakerTripped), nil
	}

	// Position caps.
	if m.positions != nil {
		open, err := m.positions.GetOpen(ctx)
		if err != nil {
			return domain.RiskDecision{}, fmt.Errorf("risk: get open positions: %w", err)
		}
		if len(open) >= m.cfg.MaxOpenPositions {
			return reject(domain.RejectPortfolioPositionCap), nil
		}
		perSymbol := 0
		for _, p := range open {
			if p.Symbol == intent.Symbol {
				perSymbol++
			}
		}
		if perSymbol >= m.cfg.MaxPositionsPerSymbol {
			return reject(domain.RejectSymbolPositionCap), nil
		}
	}

	size := m.positionSize(account.Equity, intent.AggregateConfidence)
	if size < m.cfg.MinOrderSize {
		return reject(domain.RejectBelowMinOrderSize), nil
	}

	leverage := m.leverage(stats.Volatility)
	if leverage > m.cfg.MaxLeverage {
		return reject(domain.RejectLeverageCeiling), nil
	}

	if size/leverage > account.AvailableMargin {
		return reject(domain.RejectInsufficientMargin), nil
	}

	stopPct, profitPct := m.exitDistances(stats.HistoricalWinRate)
	liqPrice := liquidationPrice(entryPrice, intent.Direction, leverage)

	// The stop must always trigger before liquidation. Cap the stop distance
	// at the liquidation distance minus the configured safety margin.
	liqDistance := math.Abs(liqPrice-entryPrice) / entryPrice
	maxStop := liqDistance * (1 - m.cfg.LiquidationSafetyPct)
	if stopPct >= maxStop {
		stopPct = maxStop
	}

	var stopLoss, takeProfit float64
	switch intent.Direction {
	case domain.DirectionBuy:
		stopLoss = entryPrice * (1 - stopPct)
		takeProfit = entryPrice * (1 + profitPct)
	case domain.DirectionSell:
		stopLoss = entryPrice * (1 + stopPct)
		takeProfit = entryPrice * (1 - profitPct)
	}

	decision := domain.RiskDecision{
		Symbol:           intent.Symbol,
		Direction:        intent.Direction,
		PositionSize:     size,
		Leverage:         leverage,
		EntryPriceHint:   entryPrice,
		StopLossPrice:    stopLoss,
		TakeProfitPrice:  takeProfit,
		LiquidationPrice: liqPrice,
		CreatedAt:        now,
	}

	m.logger.InfoContext(ctx, "intent accepted",
		slog.String("symbol", intent.Symbol),
		slog.String("direction", string(intent.Direction)),
		slog.Float64("size", size),
		slog.Float64("leverage", leverage),
		slog.Float64("stop_loss", stopLoss),
		slog.Float64("take_profit", takeProfit),
		slog.Float64("liquidation", liqPrice),
	)
	return decision, nil
}

// positionSize computes equity * base_risk_fraction * confidence scalar,
// clamped to the hard maximum fraction of equity. The scalar grows linearly
// with the confidence excess over the threshold, bounded to [0.5, 1.5].
func (m *Manager) positionSize(equity, confidence float64) float64 {
	scalar := 1 + (confidence - m.cfg.ConfidenceThreshold)
	scalar = clamp(scalar, 0.5, 1.5)

	size := equity * m.cfg.BaseRiskFraction * scalar
	return math.Min(size, equity*m.cfg.MaxPositionFraction)
}

// leverage shrinks base leverage as observed volatility grows, holding the
// expected liquidation distance roughly constant. The ceiling is enforced by
// rejection in Evaluate, not by clamping, so a misconfigured base leverage
// cannot silently trade at the cap.
func (m *Manager) leverage(volatility float64) float64 {
	if volatility < 0 {
		volatility = 0
	}
	lev := m.cfg.BaseLeverage / (1 + volatility)
	if lev < 1 {
		lev = 1
	}
	return lev
}

// exitDistances tightens the stop under a poor historical win rate and
// loosens it under a strong one, within the configured bounds. The
// take-profit distance scales with the same factor to keep the reward/risk
// ratio stable.
func (m *Manager) exitDistances(winRate float64) (stopPct, profitPct float64) {
	// winRate 0.5 is neutral; each point away moves the distances by the
	// same relative amount.
	factor := clamp(0.5+winRate, 0.5, 1.5)
	stopPct = clamp(m.cfg.StopLossPct*factor, m.cfg.MinStopLossPct, m.cfg.MaxStopLossPct)
	profitPct = m.cfg.TakeProfitPct * factor
	return stopPct, profitPct
}

// liquidationPrice is the standard isolated-margin approximation:
// entry * (1 -/+ 1/leverage) depending on side.
func liquidationPrice(entry float64, side domain.Direction, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	switch side {
	case domain.DirectionSell:
		return entry * (1 + 1/leverage)
	default:
		return entry * (1 - 1/leverage)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
