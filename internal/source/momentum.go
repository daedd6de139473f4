package source

import (
	"context"
	"math"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Momentum is a rule-based heuristic source: it compares a fast and a slow
// simple moving average over recent closes and votes with the crossover,
// scaling confidence by the relative gap between the two averages.
type Momentum struct {
	id      string
	fastLen int
	slowLen int
}

// NewMomentum creates a momentum source. fastLen must be smaller than
// slowLen; zero values fall back to 7/25.
func NewMomentum(id string, fastLen, slowLen int) *Momentum {
	if fastLen <= 0 {
		fastLen = 7
	}
	if slowLen <= fastLen {
		slowLen = 25
	}
	return &Momentum{id: id, fastLen: fastLen, slowLen: slowLen}
}

// ID implements Source.
func (m *Momentum) ID() string { return m.id }

// Score implements Source. It abstains when there is not enough history for
// the slow average.
func (m *Momentum) Score(_ context.Context, mctx domain.MarketContext) (domain.Signal, error) {
	closes := mctx.RecentCloses
	if len(closes) < m.slowLen {
		return domain.Signal{}, domain.ErrNoOpinion
	}

	fast := sma(closes, m.fastLen)
	slow := sma(closes, m.slowLen)
	if slow == 0 {
		return domain.Signal{}, domain.ErrNoOpinion
	}

	gap := (fast - slow) / slow

	direction := domain.DirectionHold
	switch {
	case gap > 0:
		direction = domain.DirectionBuy
	case gap < 0:
		direction = domain.DirectionSell
	}

	// A 2% average gap saturates confidence.
	confidence := math.Min(math.Abs(gap)/0.02, 1)

	return domain.Signal{
		Direction:  direction,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// sma averages the trailing n closes.
func sma(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	var sum float64
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}
