package domain

import "time"

// RejectionReason is a machine-readable code explaining why an intent did not
// become a trade. Reasons are persisted to the ledger, not just logged.
type RejectionReason string

const (
	RejectInsufficientMargin    RejectionReason = "insufficient_margin"
	RejectBelowMinOrderSize     RejectionReason = "below_min_order_size"
	RejectLeverageCeiling       RejectionReason = "leverage_ceiling"
	RejectSymbolPositionCap     RejectionReason = "symbol_position_cap"
	RejectPortfolioPositionCap  RejectionReason = "portfolio_position_cap"
	RejectCircuitBreakerTripped RejectionReason = "circuit_breaker_tripped"
	RejectExecutionFailure      RejectionReason = "execution_failure"
)

// RiskDecision is the sized, leveraged, protected form of a TradeIntent.
// Immutable once created. When Rejected is set the price fields are zero and
// Reason carries the first violated limit.
type RiskDecision struct {
	Symbol         string
	Direction      Direction
	PositionSize   float64 // quote-currency notional
	Leverage       float64
	EntryPriceHint float64
	StopLossPrice  float64
	TakeProfitPrice float64
	LiquidationPrice float64
	Rejected       bool
	Reason         RejectionReason
	CreatedAt      time.Time
}

// SymbolStats are the per-symbol inputs to risk evaluation that come from
// market data and trading history rather than the intent itself.
type SymbolStats struct {
	Volatility        float64 // relative recent volatility
	HistoricalWinRate float64 // [0,1]; 0.5 when no history
}

// ExecutionResult reports the reconciled outcome of submitting an order.
type ExecutionResult struct {
	OrderID     string
	FilledSize  float64
	FilledPrice float64
	Slippage    float64 // relative to the entry price hint, signed
	Fee         float64
}
