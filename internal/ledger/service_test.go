package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.LedgerStore) {
	t.Helper()
	store := memory.NewLedgerStore()
	svc, err := NewService(context.Background(), store, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return svc, store
}

func openPosition(id string, size, leverage float64) domain.Position {
	return domain.Position{
		ID:       id,
		Symbol:   "BTCUSDT",
		Side:     domain.DirectionBuy,
		Size:     size,
		Leverage: leverage,
		Status:   domain.PositionStatusOpen,
	}
}

func closedTrade(positionID string, pnl float64, closedAt time.Time) domain.Trade {
	return domain.Trade{
		ID:          positionID + "-trade",
		PositionID:  positionID,
		Symbol:      "BTCUSDT",
		Side:        domain.DirectionBuy,
		Size:        500,
		Leverage:    5,
		RealizedPnL: pnl,
		ExitReason:  domain.ExitTakeProfit,
		ClosedAt:    closedAt,
	}
}

func TestRecordOpenReservesMargin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordOpen(ctx, openPosition("p1", 500, 5)))

	state := svc.Snapshot()
	assert.InDelta(t, 1000, state.Equity, 1e-9)
	assert.InDelta(t, 900, state.AvailableMargin, 1e-9)
	assert.Equal(t, []string{"p1"}, state.OpenPositionIDs)
}

func TestRecordTradeAppliesPnL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordOpen(ctx, openPosition("p1", 500, 5)))
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p1", 50, time.Now().UTC())))

	state := svc.Snapshot()
	assert.InDelta(t, 1050, state.Equity, 1e-9)
	assert.InDelta(t, 1050, state.AvailableMargin, 1e-9)
	assert.InDelta(t, 50, state.DailyRealizedPnL, 1e-9)
	assert.Zero(t, state.ConsecutiveLosses)
	assert.Empty(t, state.OpenPositionIDs)
}

func TestConsecutiveLossTracking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p1", -20, now)))
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p2", -30, now)))
	assert.Equal(t, 2, svc.Snapshot().ConsecutiveLosses)

	// A break-even trade does not extend the streak.
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p3", 0, now)))
	assert.Zero(t, svc.Snapshot().ConsecutiveLosses)
}

func TestReplayMatchesLiveState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, svc.RecordOpen(ctx, openPosition("p1", 500, 5)))
	require.NoError(t, svc.RecordOpen(ctx, openPosition("p2", 200, 4)))
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p1", -35, now)))
	require.NoError(t, svc.RecordRejection(ctx, domain.Rejection{
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionBuy,
		Reason:    domain.RejectInsufficientMargin,
	}))

	live := svc.Snapshot()

	// A fresh service over the same store must land on identical state.
	restarted, err := NewService(ctx, store, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	replayed := restarted.Snapshot()

	assert.InDelta(t, live.Equity, replayed.Equity, 1e-9)
	assert.InDelta(t, live.AvailableMargin, replayed.AvailableMargin, 1e-9)
	assert.InDelta(t, live.DailyRealizedPnL, replayed.DailyRealizedPnL, 1e-9)
	assert.Equal(t, live.ConsecutiveLosses, replayed.ConsecutiveLosses)
	assert.Equal(t, live.OpenPositionIDs, replayed.OpenPositionIDs)
}

func TestDayRolloverResetsDailyFigures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Future trading days so the rollover is driven entirely by the
	// injected clock.
	day0 := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 2)
	day1 := day0.AddDate(0, 0, 1)

	svc.SetClock(func() time.Time { return day0.Add(12 * time.Hour) })
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p1", -50, day0.Add(12*time.Hour))))

	state := svc.Snapshot()
	assert.InDelta(t, -50, state.DailyRealizedPnL, 1e-9)
	assert.InDelta(t, 950, state.Equity, 1e-9)
	assert.Equal(t, 1, state.ConsecutiveLosses)

	svc.SetClock(func() time.Time { return day1.Add(time.Hour) })
	state = svc.Snapshot()
	assert.Zero(t, state.DailyRealizedPnL)
	assert.InDelta(t, 950, state.EquityAtDayStart, 1e-9)
	assert.Equal(t, day1, state.Day)
	// The loss streak survives the rollover; only daily figures reset.
	assert.Equal(t, 1, state.ConsecutiveLosses)
}

func TestWinRate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// No history defaults to a neutral 0.5.
	assert.InDelta(t, 0.5, svc.WinRate("BTCUSDT"), 1e-9)

	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p1", 40, now)))
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p2", 25, now)))
	require.NoError(t, svc.RecordTrade(ctx, closedTrade("p3", -10, now)))

	assert.InDelta(t, 2.0/3.0, svc.WinRate("BTCUSDT"), 1e-9)
	assert.InDelta(t, 0.5, svc.WinRate("ETHUSDT"), 1e-9)
}
