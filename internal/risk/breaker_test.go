package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{DailyLossLimit: 0.05, MaxConsecutiveLosses: 5}
}

func day(offset int) time.Time {
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func newArmedBreaker(t *testing.T) *Breaker {
	t.Helper()
	b := NewBreaker(testBreakerConfig(), BreakerInput{
		EquityAtDayStart: 1000,
		Day:              day(0),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, BreakerArmed, b.Status())
	return b
}

func TestBreakerTripsOnDailyLoss(t *testing.T) {
	b := newArmedBreaker(t)

	// -60 on 1000 of day-start equity crosses the 5% limit.
	status := b.Evaluate(BreakerInput{
		DailyRealizedPnL: -60,
		EquityAtDayStart: 1000,
		Day:              day(0),
	})
	assert.Equal(t, BreakerTrippedDaily, status)
	assert.True(t, b.Tripped())
	assert.Equal(t, "tripped_daily", b.StatusText())
}

func TestBreakerStaysArmedWithinLimits(t *testing.T) {
	b := newArmedBreaker(t)

	status := b.Evaluate(BreakerInput{
		DailyRealizedPnL:  -40,
		EquityAtDayStart:  1000,
		ConsecutiveLosses: 4,
		Day:               day(0),
	})
	assert.Equal(t, BreakerArmed, status)
	assert.False(t, b.Tripped())
}

func TestBreakerTripsOnLossStreak(t *testing.T) {
	b := newArmedBreaker(t)

	status := b.Evaluate(BreakerInput{
		EquityAtDayStart:  1000,
		ConsecutiveLosses: 5,
		Day:               day(0),
	})
	assert.Equal(t, BreakerTrippedStreak, status)
}

func TestBreakerStreakWinsOverDaily(t *testing.T) {
	b := newArmedBreaker(t)

	// Both conditions hold; the streak state is the stickier one and takes
	// precedence so a day rollover cannot silently re-arm.
	status := b.Evaluate(BreakerInput{
		DailyRealizedPnL:  -100,
		EquityAtDayStart:  1000,
		ConsecutiveLosses: 6,
		Day:               day(0),
	})
	assert.Equal(t, BreakerTrippedStreak, status)
}

func TestBreakerDailyTripClearsNextDay(t *testing.T) {
	b := newArmedBreaker(t)
	b.Evaluate(BreakerInput{DailyRealizedPnL: -60, EquityAtDayStart: 1000, Day: day(0)})
	require.True(t, b.Tripped())

	// Same day: stays tripped even though the daily figures reset.
	status := b.Evaluate(BreakerInput{EquityAtDayStart: 940, Day: day(0)})
	assert.Equal(t, BreakerTrippedDaily, status)

	// Next trading day re-arms.
	status = b.Evaluate(BreakerInput{EquityAtDayStart: 940, Day: day(1)})
	assert.Equal(t, BreakerArmed, status)
}

func TestBreakerStreakTripNeverAutoResets(t *testing.T) {
	b := newArmedBreaker(t)
	b.Evaluate(BreakerInput{EquityAtDayStart: 1000, ConsecutiveLosses: 5, Day: day(0)})
	require.Equal(t, BreakerTrippedStreak, b.Status())

	// Days pass and the streak counter is long gone; only Reset clears it.
	status := b.Evaluate(BreakerInput{EquityAtDayStart: 900, Day: day(3)})
	assert.Equal(t, BreakerTrippedStreak, status)

	b.Reset()
	assert.Equal(t, BreakerArmed, b.Status())
}

func TestBreakerManualTrip(t *testing.T) {
	b := newArmedBreaker(t)

	b.TripManual()
	assert.Equal(t, BreakerTrippedManual, b.Status())

	// Evaluate cannot clear a manual trip.
	status := b.Evaluate(BreakerInput{EquityAtDayStart: 1000, Day: day(2)})
	assert.Equal(t, BreakerTrippedManual, status)

	b.Reset()
	assert.False(t, b.Tripped())
}

func TestBreakerRestoresTrippedStateFromReplay(t *testing.T) {
	// A restart mid-drawdown lands in the same state the process died in.
	b := NewBreaker(testBreakerConfig(), BreakerInput{
		DailyRealizedPnL: -80,
		EquityAtDayStart: 1000,
		Day:              day(0),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, BreakerTrippedDaily, b.Status())
}

func TestBreakerOnTripCallback(t *testing.T) {
	b := newArmedBreaker(t)

	var fired []BreakerStatus
	b.OnTrip(func(status BreakerStatus) { fired = append(fired, status) })

	b.Evaluate(BreakerInput{DailyRealizedPnL: -60, EquityAtDayStart: 1000, Day: day(0)})
	// Re-evaluating an already-tripped breaker does not fire again.
	b.Evaluate(BreakerInput{DailyRealizedPnL: -60, EquityAtDayStart: 1000, Day: day(0)})

	require.Len(t, fired, 1)
	assert.Equal(t, BreakerTrippedDaily, fired[0])

	b.Reset()
	b.TripManual()
	require.Len(t, fired, 2)
	assert.Equal(t, BreakerTrippedManual, fired[1])
}

func TestBreakerIgnoresDailyLossWithZeroDayStartEquity(t *testing.T) {
	b := NewBreaker(testBreakerConfig(), BreakerInput{
		DailyRealizedPnL: -60,
		Day:              day(0),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, BreakerArmed, b.Status())
}
