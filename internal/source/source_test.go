package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/marginbot/internal/domain"
)

type fixedSource struct {
	id     string
	signal domain.Signal
	err    error
	delay  time.Duration
}

func (f fixedSource) ID() string { return f.id }

func (f fixedSource) Score(ctx context.Context, _ domain.MarketContext) (domain.Signal, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.signal, f.err
}

func TestCollectGathersAndTagsSignals(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedSource{id: "alpha", signal: domain.Signal{Direction: domain.DirectionBuy, Confidence: 0.7}})
	r.Register(fixedSource{id: "beta", signal: domain.Signal{Direction: domain.DirectionSell, Confidence: 1.4}})

	signals := r.Collect(context.Background(), domain.MarketContext{Symbol: "BTCUSDT"}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Len(t, signals, 2)

	bySource := map[string]domain.Signal{}
	for _, s := range signals {
		assert.Equal(t, "BTCUSDT", s.Symbol)
		bySource[s.SourceID] = s
	}
	assert.InDelta(t, 0.7, bySource["alpha"].Confidence, 1e-9)
	// Out-of-range confidence clamps to [0,1].
	assert.InDelta(t, 1.0, bySource["beta"].Confidence, 1e-9)
}

func TestCollectDropsFailingAndAbstainingSources(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedSource{id: "ok", signal: domain.Signal{Direction: domain.DirectionBuy, Confidence: 0.8}})
	r.Register(fixedSource{id: "abstains", err: domain.ErrNoOpinion})
	r.Register(fixedSource{id: "broken", err: errors.New("upstream 500")})
	r.Register(fixedSource{id: "slow", delay: time.Second, signal: domain.Signal{Direction: domain.DirectionBuy, Confidence: 0.9}})

	var failures []string
	r.OnFailure(func(id string) { failures = append(failures, id) })

	signals := r.Collect(context.Background(), domain.MarketContext{Symbol: "BTCUSDT"}, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Len(t, signals, 1)
	assert.Equal(t, "ok", signals[0].SourceID)

	// The abstention is not a failure; the error and the timeout are.
	assert.ElementsMatch(t, []string{"broken", "slow"}, failures)
}

// stubbornSource sleeps without watching its context, the way a misbehaving
// HTTP client with no deadline would.
type stubbornSource struct {
	id    string
	sleep time.Duration
}

func (s stubbornSource) ID() string { return s.id }

func (s stubbornSource) Score(context.Context, domain.MarketContext) (domain.Signal, error) {
	time.Sleep(s.sleep)
	return domain.Signal{Direction: domain.DirectionBuy, Confidence: 0.9}, nil
}

func TestCollectAbandonsSourceIgnoringContext(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedSource{id: "ok", signal: domain.Signal{Direction: domain.DirectionBuy, Confidence: 0.8}})
	r.Register(stubbornSource{id: "stuck", sleep: 2 * time.Second})

	var failures []string
	r.OnFailure(func(id string) { failures = append(failures, id) })

	started := time.Now()
	signals := r.Collect(context.Background(), domain.MarketContext{Symbol: "BTCUSDT"}, 50*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	elapsed := time.Since(started)

	assert.Less(t, elapsed, 500*time.Millisecond, "collection must end at the timeout, not when the stuck source returns")
	require.Len(t, signals, 1)
	assert.Equal(t, "ok", signals[0].SourceID)
	assert.Equal(t, []string{"stuck"}, failures)
}

func TestRegistryAllStableOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedSource{id: "zeta"})
	r.Register(fixedSource{id: "alpha"})
	r.Register(fixedSource{id: "mid"})

	var ids []string
	for _, s := range r.All() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)

	_, err := r.Get("alpha")
	require.NoError(t, err)
	_, err = r.Get("missing")
	require.Error(t, err)
}

func TestMomentumAbstainsWithoutHistory(t *testing.T) {
	m := NewMomentum("momentum", 3, 5)

	_, err := m.Score(context.Background(), domain.MarketContext{RecentCloses: []float64{100, 101}})
	assert.ErrorIs(t, err, domain.ErrNoOpinion)
}

func TestMomentumVotesWithCrossover(t *testing.T) {
	m := NewMomentum("momentum", 3, 5)

	up, err := m.Score(context.Background(), domain.MarketContext{
		RecentCloses: []float64{100, 102, 104, 106, 108, 110},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionBuy, up.Direction)
	assert.Greater(t, up.Confidence, 0.0)
	assert.LessOrEqual(t, up.Confidence, 1.0)

	down, err := m.Score(context.Background(), domain.MarketContext{
		RecentCloses: []float64{110, 108, 106, 104, 102, 100},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionSell, down.Direction)
}

func TestMomentumHoldsOnFlatMarket(t *testing.T) {
	m := NewMomentum("momentum", 3, 5)

	sig, err := m.Score(context.Background(), domain.MarketContext{
		RecentCloses: []float64{100, 100, 100, 100, 100, 100},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionHold, sig.Direction)
	assert.Zero(t, sig.Confidence)
}
