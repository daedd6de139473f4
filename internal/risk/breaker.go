package risk

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerStatus enumerates the circuit breaker states.
type BreakerStatus string

const (
	BreakerArmed         BreakerStatus = "armed"
	BreakerTrippedDaily  BreakerStatus = "tripped_daily"
	BreakerTrippedStreak BreakerStatus = "tripped_streak"
	BreakerTrippedManual BreakerStatus = "tripped_manual"
)

// BreakerConfig holds the trip limits.
type BreakerConfig struct {
	DailyLossLimit       float64 // fraction of day-start equity
	MaxConsecutiveLosses int
}

// BreakerInput is the slice of account state the breaker evaluates. It is
// always derived from ledger replay, never from ad hoc counters, so a
// crash-restart cannot forget a tripped condition.
type BreakerInput struct {
	DailyRealizedPnL  float64
	EquityAtDayStart  float64
	ConsecutiveLosses int
	Day               time.Time // UTC midnight of the trading day the figures refer to
}

// Breaker is the process-wide circuit breaker. A tripped breaker forces every
// risk decision to reject until it resets: daily trips clear at the next
// trading day, streak and manual trips only on an operator reset.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger
	onTrip func(status BreakerStatus)

	mu        sync.Mutex
	status    BreakerStatus
	trippedOn time.Time // trading day of a daily trip
}

// NewBreaker creates an armed Breaker and immediately evaluates the given
// replay-derived input, so a restart lands in the same state the process
// died in.
func NewBreaker(cfg BreakerConfig, input BreakerInput, logger *slog.Logger) *Breaker {
	b := &Breaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "breaker")),
		status: BreakerArmed,
	}
	b.Evaluate(input)
	return b
}

// OnTrip registers a callback invoked (outside the lock) whenever the breaker
// transitions from armed to a tripped state. Used for notifications.
func (b *Breaker) OnTrip(fn func(status BreakerStatus)) {
	b.onTrip = fn
}

// Evaluate applies the trip conditions to the given input. Daily trips reset
// automatically when the input's trading day has moved past the day the trip
// occurred; streak and manual trips never auto-reset.
func (b *Breaker) Evaluate(input BreakerInput) BreakerStatus {
	b.mu.Lock()

	// Day rollover clears a daily trip.
	if b.status == BreakerTrippedDaily && input.Day.After(b.trippedOn) {
		b.logger.Info("daily trip cleared on day rollover",
			slog.Time("day", input.Day),
		)
		b.status = BreakerArmed
	}

	tripped := BreakerStatus("")
	if b.status == BreakerArmed {
		switch {
		case input.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses:
			b.status = BreakerTrippedStreak
			tripped = b.status
		case input.EquityAtDayStart > 0 && input.DailyRealizedPnL <= -b.cfg.DailyLossLimit*input.EquityAtDayStart:
			b.status = BreakerTrippedDaily
			b.trippedOn = input.Day
			tripped = b.status
		}
	}
	status := b.status
	b.mu.Unlock()

	if tripped != "" {
		b.logger.Warn("circuit breaker tripped",
			slog.String("status", string(tripped)),
			slog.Float64("daily_pnl", input.DailyRealizedPnL),
			slog.Int("consecutive_losses", input.ConsecutiveLosses),
		)
		if b.onTrip != nil {
			b.onTrip(tripped)
		}
	}
	return status
}

// TripManual flips the breaker to the manual state. Used by the emergency
// stop path; takes priority over any in-flight evaluation.
func (b *Breaker) TripManual() {
	b.mu.Lock()
	already := b.status == BreakerTrippedManual
	b.status = BreakerTrippedManual
	b.mu.Unlock()

	if !already {
		b.logger.Warn("circuit breaker tripped manually")
		if b.onTrip != nil {
			b.onTrip(BreakerTrippedManual)
		}
	}
}

// Reset re-arms the breaker after a streak or manual trip. It is the only way
// those trips clear; a daily trip also clears here if the operator insists.
func (b *Breaker) Reset() {
	b.mu.Lock()
	prev := b.status
	b.status = BreakerArmed
	b.trippedOn = time.Time{}
	b.mu.Unlock()

	if prev != BreakerArmed {
		b.logger.Info("circuit breaker reset by operator",
			slog.String("previous", string(prev)),
		)
	}
}

// Status returns the current state.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// StatusText returns the current state as a plain string for API responses.
func (b *Breaker) StatusText() string {
	return string(b.Status())
}

// Tripped reports whether the breaker currently blocks new risk-taking.
func (b *Breaker) Tripped() bool {
	return b.Status() != BreakerArmed
}
