package consensus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/marginbot/internal/domain"
)

func newTestAggregator(minQuorum float64) *Aggregator {
	return New(Config{
		Weights: map[string]float64{
			"momentum":  0.2,
			"sentiment": 0.2,
			"model_a":   0.2,
			"model_b":   0.2,
			"model_c":   0.2,
		},
		ConfidenceThreshold: 0.6,
		MinQuorum:           minQuorum,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sig(source string, dir domain.Direction, conf float64) domain.Signal {
	return domain.Signal{SourceID: source, Symbol: "BTCUSDT", Direction: dir, Confidence: conf}
}

func TestAggregateBuyConsensus(t *testing.T) {
	agg := newTestAggregator(0.3)

	// Four of five sources vote buy at 0.8; the fifth is silent. The net
	// score is 4*0.2*0.8 = 0.64 over total weight 1.0.
	intent, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 0.8),
		sig("sentiment", domain.DirectionBuy, 0.8),
		sig("model_a", domain.DirectionBuy, 0.8),
		sig("model_b", domain.DirectionBuy, 0.8),
	})
	require.True(t, ok)
	assert.Equal(t, domain.DirectionBuy, intent.Direction)
	assert.InDelta(t, 0.8, intent.AggregateConfidence, 1e-9)
	assert.Equal(t, 4, intent.ContributingSignals)
	assert.Equal(t, "BTCUSDT", intent.Symbol)
}

func TestAggregateSellConsensus(t *testing.T) {
	agg := newTestAggregator(0.3)

	intent, ok := agg.Aggregate("ETHUSDT", []domain.Signal{
		sig("momentum", domain.DirectionSell, 0.9),
		sig("sentiment", domain.DirectionSell, 0.9),
		sig("model_a", domain.DirectionSell, 0.9),
		sig("model_b", domain.DirectionSell, 0.9),
	})
	require.True(t, ok)
	assert.Equal(t, domain.DirectionSell, intent.Direction)
	assert.InDelta(t, 0.9, intent.AggregateConfidence, 1e-9)
}

func TestAggregateHoldsInsideThresholdBand(t *testing.T) {
	agg := newTestAggregator(0.3)

	// Three buys against one sell nets 2*0.2*0.8 = 0.32, below 0.6.
	_, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 0.8),
		sig("sentiment", domain.DirectionBuy, 0.8),
		sig("model_a", domain.DirectionBuy, 0.8),
		sig("model_b", domain.DirectionSell, 0.8),
	})
	assert.False(t, ok)
}

func TestAggregateHoldsBelowQuorum(t *testing.T) {
	agg := newTestAggregator(0.3)

	// One of five responding is a 0.2 quorum, below the 0.3 minimum, even
	// though the lone vote is maximally confident.
	_, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 1.0),
	})
	assert.False(t, ok)
}

func TestAggregateMissingSourcesDragTowardHold(t *testing.T) {
	agg := newTestAggregator(0.3)

	// Two unanimous buys pass quorum but only reach 2*0.2*0.9 = 0.36:
	// silent sources carry weight in the denominator.
	_, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 0.9),
		sig("sentiment", domain.DirectionBuy, 0.9),
	})
	assert.False(t, ok)
}

func TestAggregateIgnoresUnconfiguredSource(t *testing.T) {
	agg := newTestAggregator(0.5)

	// The rogue source neither votes nor counts toward quorum: two of five
	// configured sources responding misses the 0.5 quorum.
	_, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 1.0),
		sig("sentiment", domain.DirectionBuy, 1.0),
		sig("rogue", domain.DirectionBuy, 1.0),
	})
	assert.False(t, ok)
}

func TestAggregateHoldVotesCountAgainstConsensus(t *testing.T) {
	agg := newTestAggregator(0.3)

	// Hold signals contribute zero to the score but full weight to the
	// denominator and the quorum.
	intent, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 1.0),
		sig("sentiment", domain.DirectionBuy, 1.0),
		sig("model_a", domain.DirectionBuy, 1.0),
		sig("model_b", domain.DirectionBuy, 0.9),
		sig("model_c", domain.DirectionHold, 1.0),
	})
	require.True(t, ok)
	assert.Equal(t, domain.DirectionBuy, intent.Direction)
	assert.Equal(t, 5, intent.ContributingSignals)
}

func TestAggregateNoConfiguredSources(t *testing.T) {
	agg := New(Config{ConfidenceThreshold: 0.6, MinQuorum: 0.3}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, ok := agg.Aggregate("BTCUSDT", []domain.Signal{
		sig("momentum", domain.DirectionBuy, 1.0),
	})
	assert.False(t, ok)
}
