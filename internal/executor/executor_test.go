package executor

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

// scriptedExchange returns canned PlaceOrder outcomes in sequence and routes
// status lookups through statusFn.
type scriptedExchange struct {
	placeOutcomes []placeOutcome
	placeCalls    int
	statusCalls   int
	statusFn      func(symbol, clientOrderID string) (domain.OrderState, error)
}

type placeOutcome struct {
	state domain.OrderState
	err   error
}

func (s *scriptedExchange) GetBalance(context.Context) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{}, nil
}

func (s *scriptedExchange) GetTicker(context.Context, string) (float64, error) {
	return 0, domain.ErrNotFound
}

func (s *scriptedExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderState, error) {
	idx := s.placeCalls
	s.placeCalls++
	if idx >= len(s.placeOutcomes) {
		idx = len(s.placeOutcomes) - 1
	}
	out := s.placeOutcomes[idx]
	return out.state, out.err
}

func (s *scriptedExchange) GetOrderStatus(_ context.Context, symbol, clientOrderID string) (domain.OrderState, error) {
	s.statusCalls++
	if s.statusFn == nil {
		return domain.OrderState{}, domain.ErrNotFound
	}
	return s.statusFn(symbol, clientOrderID)
}

func (s *scriptedExchange) ClosePosition(context.Context, domain.Position) (domain.OrderState, error) {
	return domain.OrderState{}, nil
}

var _ domain.Exchange = (*scriptedExchange)(nil)

func filledState(orderID string, price float64) domain.OrderState {
	return domain.OrderState{
		OrderID:     orderID,
		Status:      domain.OrderStatusFilled,
		FilledSize:  120,
		FilledPrice: price,
		Fee:         0.05,
	}
}

func acceptedDecision(dir domain.Direction) domain.RiskDecision {
	return domain.RiskDecision{
		Symbol:         "BTCUSDT",
		Direction:      dir,
		PositionSize:   120,
		Leverage:       5,
		EntryPriceHint: 100,
		CreatedAt:      time.Now().UTC(),
	}
}

func newTestEngine(ex domain.Exchange) *Engine {
	e := NewEngine(ex, Config{
		MaxAttempts: 3,
		MaxElapsed:  5 * time.Second,
		Backoff:     Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.newID = func() string { return "coid-1" }
	return e
}

func TestExecuteFillsFirstAttempt(t *testing.T) {
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{state: filledState("o1", 100.2)},
	}}
	eng := newTestEngine(ex)

	res, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionBuy))
	require.NoError(t, err)
	assert.Equal(t, "o1", res.OrderID)
	assert.InDelta(t, 100.2, res.FilledPrice, 1e-9)
	assert.InDelta(t, 0.002, res.Slippage, 1e-9)
	assert.InDelta(t, 0.05, res.Fee, 1e-9)
	assert.Equal(t, 1, ex.placeCalls)
}

func TestExecuteSellSlippageSign(t *testing.T) {
	// A short filled below the hint is favorable: positive slippage hurts,
	// so the sign flips with the side.
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{state: filledState("o1", 99.8)},
	}}
	eng := newTestEngine(ex)

	res, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionSell))
	require.NoError(t, err)
	assert.InDelta(t, 0.002, res.Slippage, 1e-9)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{err: domain.ErrTransient},
		{state: filledState("o2", 100.1)},
	}}
	eng := newTestEngine(ex)

	var retries int
	eng.OnRetry(func() { retries++ })

	res, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionBuy))
	require.NoError(t, err)
	assert.Equal(t, "o2", res.OrderID)
	assert.Equal(t, 2, ex.placeCalls)
	assert.Equal(t, 1, retries)
}

func TestExecuteAmbiguousFailureResolvedByLookup(t *testing.T) {
	// The submission times out but actually reached the venue. The status
	// lookup finds the fill; no second order is sent.
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{err: context.DeadlineExceeded},
	}}
	ex.statusFn = func(symbol, clientOrderID string) (domain.OrderState, error) {
		require.Equal(t, "coid-1", clientOrderID)
		return filledState("o1", 99.98), nil
	}
	eng := newTestEngine(ex)

	res, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionBuy))
	require.NoError(t, err)
	assert.Equal(t, "o1", res.OrderID)
	assert.InDelta(t, 99.98, res.FilledPrice, 1e-9)
	assert.Equal(t, 1, ex.placeCalls)
}

func TestExecuteFatalErrorDoesNotRetry(t *testing.T) {
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{err: domain.ErrInvalidRequest},
	}}
	eng := newTestEngine(ex)

	_, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionBuy))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, 1, ex.placeCalls)
}

func TestExecuteRejectedDecision(t *testing.T) {
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{state: filledState("o1", 100)},
	}}
	eng := newTestEngine(ex)

	decision := acceptedDecision(domain.DirectionBuy)
	decision.Rejected = true
	decision.Reason = domain.RejectInsufficientMargin

	_, err := eng.Execute(context.Background(), decision)
	require.Error(t, err)
	assert.Zero(t, ex.placeCalls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{err: domain.ErrRateLimited},
	}}
	eng := newTestEngine(ex)

	_, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionBuy))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 3, ex.placeCalls)
}

func TestExecuteAwaitsPendingLimitOrder(t *testing.T) {
	pending := domain.OrderState{OrderID: "o1", Status: domain.OrderStatusNew}
	ex := &scriptedExchange{placeOutcomes: []placeOutcome{
		{state: pending},
	}}
	ex.statusFn = func(string, string) (domain.OrderState, error) {
		return filledState("o1", 100), nil
	}
	eng := NewEngine(ex, Config{
		OrderType:   domain.OrderTypeLimit,
		MaxAttempts: 1,
		MaxElapsed:  5 * time.Second,
		Backoff:     Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.newID = func() string { return "coid-1" }

	res, err := eng.Execute(context.Background(), acceptedDecision(domain.DirectionBuy))
	require.NoError(t, err)
	assert.InDelta(t, 100, res.FilledPrice, 1e-9)
	assert.GreaterOrEqual(t, ex.statusCalls, 1)
}

func TestRetryableOutcome(t *testing.T) {
	assert.True(t, retryableOutcome(domain.ErrTransient))
	assert.True(t, retryableOutcome(domain.ErrRateLimited))
	assert.True(t, retryableOutcome(context.DeadlineExceeded))
	assert.False(t, retryableOutcome(domain.ErrInvalidRequest))
	assert.False(t, retryableOutcome(domain.ErrInsufficientFunds))
	assert.False(t, retryableOutcome(errors.New("unclassified")))
	assert.False(t, retryableOutcome(nil))
}
