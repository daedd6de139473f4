package domain

import "time"

// Direction is the directional opinion carried by a signal or intent.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Sign maps a direction onto the vote axis: +1 for buy, -1 for sell, 0 for hold.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	default:
		return 0
	}
}

// Signal is one predictive source's opinion for a symbol during a single
// decision cycle. Signals are ephemeral; only the aggregate is persisted.
type Signal struct {
	SourceID   string
	Symbol     string
	Direction  Direction
	Confidence float64 // [0,1]
	CreatedAt  time.Time
}

// TradeIntent is the consensus output of one decision cycle. It is consumed
// exactly once by the risk manager and never mutated.
type TradeIntent struct {
	Symbol              string
	Direction           Direction
	AggregateConfidence float64
	ContributingSignals int
	CreatedAt           time.Time
}

// MarketContext is the market snapshot handed to every signal source for a
// cycle. Sources treat it as read-only.
type MarketContext struct {
	Symbol       string
	LastPrice    float64
	RecentCloses []float64 // oldest first
	Volatility   float64   // relative, e.g. 0.04 = 4%
}
