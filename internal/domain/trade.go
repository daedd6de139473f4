package domain

import "time"

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitTakeProfit     ExitReason = "take_profit"
	ExitStopLoss       ExitReason = "stop_loss"
	ExitLiquidation    ExitReason = "liquidation"
	ExitManual         ExitReason = "manual"
	ExitSignalReversal ExitReason = "signal_reversal"
	ExitMaxHolding     ExitReason = "max_holding"
)

// Trade is the immutable record of one round trip. Exactly one Trade is
// written per position that leaves the OPEN state.
type Trade struct {
	ID          string
	PositionID  string
	Symbol      string
	Side        Direction
	EntryPrice  float64
	ExitPrice   float64
	Size        float64
	Leverage    float64
	Fees        float64
	RealizedPnL float64
	ExitReason  ExitReason
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Won reports whether the trade ended profitable after fees.
func (t Trade) Won() bool {
	return t.RealizedPnL > 0
}
