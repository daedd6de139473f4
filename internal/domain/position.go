package domain

import "time"

// PositionStatus tracks the lifecycle of a position. A position leaves OPEN
// exactly once.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// Position is a live leveraged holding. Owned exclusively by the position
// lifecycle manager; ExitPrice/ClosedAt/RealizedPnL are set only on close.
type Position struct {
	ID               string
	Symbol           string
	Side             Direction // buy = long, sell = short
	EntryPrice       float64
	Size             float64 // quote-currency notional
	Leverage         float64
	StopLossPrice    float64
	TakeProfitPrice  float64
	LiquidationPrice float64
	Status           PositionStatus
	OpenedAt         time.Time
	ClosedAt         *time.Time
	ExitPrice        *float64
	RealizedPnL      *float64
}

// Margin returns the collateral locked by this position.
func (p Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Size
	}
	return p.Size / p.Leverage
}

// PnLAt computes the unrealized profit or loss of the position at price.
func (p Position) PnLAt(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == DirectionSell {
		move = -move
	}
	return move * p.Size
}
