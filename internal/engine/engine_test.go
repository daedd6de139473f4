package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/marginbot/internal/consensus"
	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/exchange"
	"github.com/driftlabs/marginbot/internal/executor"
	"github.com/driftlabs/marginbot/internal/ledger"
	"github.com/driftlabs/marginbot/internal/position"
	"github.com/driftlabs/marginbot/internal/risk"
	"github.com/driftlabs/marginbot/internal/source"
	"github.com/driftlabs/marginbot/internal/store/memory"
)

// stubPrices serves a fixed last price and a flat close history.
type stubPrices struct {
	mu     sync.Mutex
	last   float64
	closes []float64 // newest first
}

func (s *stubPrices) SetPrice(_ context.Context, _ string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = price
	return nil
}

func (s *stubPrices) GetPrice(context.Context, string) (float64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last <= 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return s.last, time.Now().UTC(), nil
}

func (s *stubPrices) PushClose(context.Context, string, float64) error { return nil }

func (s *stubPrices) RecentCloses(_ context.Context, _ string, n int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.closes) {
		n = len(s.closes)
	}
	return append([]float64(nil), s.closes[:n]...), nil
}

var _ domain.PriceCache = (*stubPrices)(nil)

// stubLocks hands out process-local locks, or refuses when held is set.
type stubLocks struct{ held bool }

func (s *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if s.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

var _ domain.LockManager = (*stubLocks)(nil)

// stubSource always votes the same way.
type stubSource struct {
	id         string
	direction  domain.Direction
	confidence float64
}

func (s stubSource) ID() string { return s.id }

func (s stubSource) Score(context.Context, domain.MarketContext) (domain.Signal, error) {
	return domain.Signal{Direction: s.direction, Confidence: s.confidence}, nil
}

type engineHarness struct {
	engine    *Engine
	breaker   *risk.Breaker
	positions *memory.PositionStore
	store     *memory.LedgerStore
	locks     *stubLocks
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	srcs := make([]source.Source, 0, 4)
	for _, id := range []string{"alpha", "beta", "gamma", "delta"} {
		srcs = append(srcs, stubSource{id: id, direction: domain.DirectionBuy, confidence: 0.9})
	}
	return newEngineHarnessWith(t, Config{
		Symbols:       []string{"BTCUSDT"},
		CycleInterval: time.Minute,
		SourceTimeout: time.Second,
	}, srcs)
}

// newEngineHarnessWith builds the full pipeline around the given cycle config
// and sources; vote weights split evenly across the sources.
func newEngineHarnessWith(t *testing.T, cfg Config, srcs []source.Source) *engineHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store := memory.NewLedgerStore()
	ledgerSvc, err := ledger.NewService(ctx, store, 1000, logger)
	require.NoError(t, err)

	prices := &stubPrices{last: 100, closes: flatCloses(30, 100)}
	venue := exchange.NewPaper(prices, exchange.PaperConfig{InitialBalance: 1000}, logger)
	positions := memory.NewPositionStore()

	breaker := risk.NewBreaker(risk.BreakerConfig{
		DailyLossLimit:       0.05,
		MaxConsecutiveLosses: 5,
	}, risk.BreakerInput{EquityAtDayStart: 1000, Day: time.Now().UTC().Truncate(24 * time.Hour)}, logger)

	riskMgr := risk.NewManager(risk.Config{
		BaseRiskFraction:      0.1,
		MaxPositionFraction:   0.25,
		BaseLeverage:          5,
		MaxLeverage:           10,
		StopLossPct:           0.02,
		TakeProfitPct:         0.04,
		MinStopLossPct:        0.005,
		MaxStopLossPct:        0.05,
		LiquidationSafetyPct:  0.2,
		MinOrderSize:          10,
		MaxPositionsPerSymbol: 2,
		MaxOpenPositions:      4,
		ConfidenceThreshold:   0.6,
	}, breaker, positions, logger)

	registry := source.NewRegistry()
	weights := make(map[string]float64, len(srcs))
	for _, s := range srcs {
		registry.Register(s)
		weights[s.ID()] = 1 / float64(len(srcs))
	}

	aggregator := consensus.New(consensus.Config{
		Weights:             weights,
		ConfidenceThreshold: 0.6,
		MinQuorum:           0.5,
	}, logger)

	exec := executor.NewEngine(venue, executor.Config{
		MaxAttempts: 2,
		MaxElapsed:  2 * time.Second,
		Backoff:     executor.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}, logger)

	posMgr := position.NewManager(positions, ledgerSvc, venue, prices, nil, position.Config{
		PollInterval:       time.Minute,
		MaxHoldingDuration: time.Hour,
	}, logger)

	locks := &stubLocks{}
	eng := New(cfg, registry, aggregator, riskMgr, breaker, exec, posMgr, ledgerSvc,
		prices, venue, locks, nil, nil, logger)

	return &engineHarness{
		engine:    eng,
		breaker:   breaker,
		positions: positions,
		store:     store,
		locks:     locks,
	}
}

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func (h *engineHarness) entriesOf(t *testing.T, kind domain.LedgerEntryKind) []domain.LedgerEntry {
	t.Helper()
	entries, err := h.store.List(context.Background(), 0)
	require.NoError(t, err)
	var out []domain.LedgerEntry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestRunCycleOpensPosition(t *testing.T) {
	h := newEngineHarness(t)

	require.NoError(t, h.engine.RunCycle(context.Background(), "BTCUSDT"))

	open, err := h.positions.GetOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)

	pos := open[0]
	assert.Equal(t, domain.DirectionBuy, pos.Side)
	// confidence 0.9 over threshold 0.6 gives scalar 1.3: 1000 * 0.1 * 1.3.
	assert.InDelta(t, 130, pos.Size, 1e-9)
	assert.InDelta(t, 5, pos.Leverage, 1e-9)
	assert.InDelta(t, 100, pos.EntryPrice, 1e-9)
	assert.Greater(t, pos.StopLossPrice, pos.LiquidationPrice)

	assert.Len(t, h.entriesOf(t, domain.LedgerEntryOpened), 1)
}

func TestRunCycleRecordsBreakerRejection(t *testing.T) {
	h := newEngineHarness(t)
	h.breaker.TripManual()

	require.NoError(t, h.engine.RunCycle(context.Background(), "BTCUSDT"))

	open, err := h.positions.GetOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	rejections := h.entriesOf(t, domain.LedgerEntryRejection)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectCircuitBreakerTripped, rejections[0].Rejection.Reason)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	h := newEngineHarness(t)
	h.locks.held = true

	require.NoError(t, h.engine.RunCycle(context.Background(), "BTCUSDT"))

	entries, err := h.store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// laggedSource votes hold everywhere but stalls scoring one symbol, recording
// when each symbol's cycle first reached it.
type laggedSource struct {
	id    string
	slow  string
	delay time.Duration

	mu      sync.Mutex
	firstAt map[string]time.Time
}

func (s *laggedSource) ID() string { return s.id }

func (s *laggedSource) Score(ctx context.Context, mctx domain.MarketContext) (domain.Signal, error) {
	s.mu.Lock()
	if _, ok := s.firstAt[mctx.Symbol]; !ok {
		s.firstAt[mctx.Symbol] = time.Now()
	}
	s.mu.Unlock()

	if mctx.Symbol == s.slow && s.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return domain.Signal{Direction: domain.DirectionHold}, nil
}

func (s *laggedSource) seen(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.firstAt[symbol]
	return at, ok
}

func TestSymbolCyclesRunIndependently(t *testing.T) {
	src := &laggedSource{
		id:      "pacer",
		slow:    "SLOWUSDT",
		delay:   400 * time.Millisecond,
		firstAt: map[string]time.Time{},
	}
	h := newEngineHarnessWith(t, Config{
		Symbols:       []string{"SLOWUSDT", "BTCUSDT"},
		CycleInterval: 25 * time.Millisecond,
		SourceTimeout: time.Second,
	}, []source.Source{src})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.cycleLoop(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, slowSeen := src.seen("SLOWUSDT")
		_, fastSeen := src.seen("BTCUSDT")
		if slowSeen && fastSeen {
			break
		}
		require.True(t, time.Now().Before(deadline), "both symbols should have cycled within 2s")
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	slowAt, _ := src.seen("SLOWUSDT")
	fastAt, _ := src.seen("BTCUSDT")
	gap := fastAt.Sub(slowAt)
	if gap < 0 {
		gap = -gap
	}
	assert.Less(t, gap, 200*time.Millisecond,
		"a stalled cycle on one symbol must not delay the other symbol's cycle")
}

func TestEmergencyStopClosesAndHalts(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.RunCycle(ctx, "BTCUSDT"))

	closed, err := h.engine.EmergencyStop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	open, err := h.positions.GetOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, risk.BreakerTrippedManual, h.breaker.Status())

	// Halted: further cycles are no-ops, not even rejections.
	before, err := h.store.List(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, h.engine.RunCycle(ctx, "BTCUSDT"))
	after, err := h.store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	// Reset re-arms the breaker and resumes trading.
	require.NoError(t, h.engine.ResetBreaker(ctx))
	require.NoError(t, h.engine.RunCycle(ctx, "BTCUSDT"))
	open, err = h.positions.GetOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
