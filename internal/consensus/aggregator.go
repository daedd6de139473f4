// Package consensus combines per-source directional signals into a single
// trade intent using a weighted vote with a confidence threshold and a
// minimum response quorum.
package consensus

import (
	"log/slog"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Config holds the aggregation parameters. Weights maps source IDs to their
// static vote weight; sources absent from the map contribute nothing.
type Config struct {
	Weights             map[string]float64
	ConfidenceThreshold float64
	MinQuorum           float64 // fraction of configured sources that must respond
}

// Aggregator computes the weighted consensus over one cycle's signals.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Aggregator with the given configuration.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "consensus")),
	}
}

// Aggregate folds the cycle's signals into a TradeIntent. The boolean is
// false when the outcome is Hold: net score inside the threshold band, or
// fewer responding sources than the quorum requires.
//
// Sources that failed to produce a signal simply do not appear in signals;
// they contribute weight zero rather than aborting the aggregation. The net
// score is sum(weight*confidence*sign) normalized by the weight of every
// configured source, so missing sources drag the score toward Hold.
func (a *Aggregator) Aggregate(symbol string, signals []domain.Signal) (domain.TradeIntent, bool) {
	configured := len(a.cfg.Weights)
	if configured == 0 {
		return domain.TradeIntent{}, false
	}

	var totalWeight, score float64
	for _, w := range a.cfg.Weights {
		totalWeight += w
	}

	responded := 0
	var respondedWeight, weightedConfidence float64
	for _, sig := range signals {
		w, ok := a.cfg.Weights[sig.SourceID]
		if !ok {
			a.logger.Warn("signal from unconfigured source ignored",
				slog.String("source", sig.SourceID),
			)
			continue
		}
		responded++
		respondedWeight += w
		weightedConfidence += w * sig.Confidence
		score += w * sig.Confidence * sig.Direction.Sign()
	}

	quorum := float64(responded) / float64(configured)
	if quorum < a.cfg.MinQuorum {
		a.logger.Warn("quorum not met, holding",
			slog.String("symbol", symbol),
			slog.Int("responded", responded),
			slog.Int("configured", configured),
			slog.Float64("min_quorum", a.cfg.MinQuorum),
		)
		return domain.TradeIntent{}, false
	}

	if totalWeight > 0 {
		score /= totalWeight
	}

	var direction domain.Direction
	switch {
	case score > a.cfg.ConfidenceThreshold:
		direction = domain.DirectionBuy
	case score < -a.cfg.ConfidenceThreshold:
		direction = domain.DirectionSell
	default:
		a.logger.Debug("score inside threshold band, holding",
			slog.String("symbol", symbol),
			slog.Float64("score", score),
			slog.Float64("threshold", a.cfg.ConfidenceThreshold),
		)
		return domain.TradeIntent{}, false
	}

	// Aggregate confidence is the weighted mean confidence of the sources
	// that responded; the vote score only picks the direction.
	confidence := weightedConfidence / respondedWeight

	intent := domain.TradeIntent{
		Symbol:              symbol,
		Direction:           direction,
		AggregateConfidence: confidence,
		ContributingSignals: responded,
		CreatedAt:           time.Now().UTC(),
	}

	a.logger.Info("consensus reached",
		slog.String("symbol", symbol),
		slog.String("direction", string(direction)),
		slog.Float64("confidence", intent.AggregateConfidence),
		slog.Int("signals", responded),
	)
	return intent, true
}
