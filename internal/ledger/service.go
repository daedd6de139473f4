// Package ledger owns the append-only trade ledger and the account state
// derived from it. Every mutation goes through the ledger first
// (ledger-then-state ordering), and the in-memory state is always equal to
// what a full replay of the ledger would produce.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// symbolRecord accumulates win/loss counts per symbol for the risk manager's
// historical win-rate input.
type symbolRecord struct {
	wins   int
	losses int
}

// Service is the single writer of account state. All position opens, trade
// closes, and intent rejections are appended to the store before the state
// is updated, so crash recovery is a replay.
type Service struct {
	store         domain.LedgerStore
	initialEquity float64
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	state   domain.AccountState
	history map[string]*symbolRecord
}

// NewService creates a Service and replays the ledger to rebuild the account
// state. The returned service is ready for live recording.
func NewService(ctx context.Context, store domain.LedgerStore, initialEquity float64, logger *slog.Logger) (*Service, error) {
	s := &Service{
		store:         store,
		initialEquity: initialEquity,
		logger:        logger.With(slog.String("component", "ledger")),
		now:           time.Now,
		history:       make(map[string]*symbolRecord),
	}
	if _, err := s.Replay(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock replaces the time source. For tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Replay rebuilds the account state from the full ledger. It is the sole
// recovery mechanism after a restart and the reference for the round-trip
// invariant: live state must always equal the replay result.
func (s *Service) Replay(ctx context.Context) (domain.AccountState, error) {
	entries, err := s.store.List(ctx, 0)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("ledger: list entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.AccountState{
		Equity:           s.initialEquity,
		AvailableMargin:  s.initialEquity,
		EquityAtDayStart: s.initialEquity,
	}
	history := make(map[string]*symbolRecord)
	openMargin := make(map[string]float64)

	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerEntryOpened:
			if e.Position != nil {
				applyOpen(&state, openMargin, *e.Position)
			}
		case domain.LedgerEntryTrade:
			if e.Trade != nil {
				applyTrade(&state, history, openMargin, *e.Trade)
			}
		case domain.LedgerEntryRejection:
			// Rejections carry no capital effect; they exist so rejection
			// rates stay queryable.
		}
	}

	rollDay(&state, s.now().UTC())

	s.state = state
	s.history = history

	s.logger.Info("ledger replayed",
		slog.Int("entries", len(entries)),
		slog.Float64("equity", state.Equity),
		slog.Int("open_positions", len(state.OpenPositionIDs)),
		slog.Int("consecutive_losses", state.ConsecutiveLosses),
	)
	return state, nil
}

// RecordOpen appends a position-opened entry and reserves its margin. The
// ledger write happens before any state change.
func (s *Service) RecordOpen(ctx context.Context, pos domain.Position) error {
	entry := domain.LedgerEntry{
		Kind:       domain.LedgerEntryOpened,
		RecordedAt: s.clock(),
		Position:   &pos,
	}
	if _, err := s.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("ledger: append open: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	applyOpen(&s.state, nil, pos)
	return nil
}

// RecordTrade appends the trade record for a closed position and applies its
// realized PnL to the account. Exactly one trade is recorded per terminal
// position; callers retry on error without state having changed.
func (s *Service) RecordTrade(ctx context.Context, trade domain.Trade) error {
	entry := domain.LedgerEntry{
		Kind:       domain.LedgerEntryTrade,
		RecordedAt: s.clock(),
		Trade:      &trade,
	}
	if _, err := s.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("ledger: append trade: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	applyTrade(&s.state, s.history, nil, trade)
	return nil
}

// RecordRejection appends a rejection entry with its machine-readable reason.
func (s *Service) RecordRejection(ctx context.Context, rej domain.Rejection) error {
	entry := domain.LedgerEntry{
		Kind:       domain.LedgerEntryRejection,
		RecordedAt: s.clock(),
		Rejection:  &rej,
	}
	if _, err := s.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("ledger: append rejection: %w", err)
	}
	return nil
}

// Snapshot returns the current account state. Day rollover is applied lazily
// so daily figures never refer to a past trading day.
func (s *Service) Snapshot() domain.AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rollDay(&s.state, s.now().UTC())

	snap := s.state
	snap.OpenPositionIDs = append([]string(nil), s.state.OpenPositionIDs...)
	return snap
}

// WinRate returns the historical win rate for a symbol in [0,1], or 0.5 when
// the symbol has no closed trades yet.
func (s *Service) WinRate(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.history[symbol]
	if !ok || rec.wins+rec.losses == 0 {
		return 0.5
	}
	return float64(rec.wins) / float64(rec.wins+rec.losses)
}

func (s *Service) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().UTC()
}

// ---------------------------------------------------------------------------
// State transitions. These are shared between replay and live recording so
// the two paths cannot diverge.
// ---------------------------------------------------------------------------

func applyOpen(state *domain.AccountState, openMargin map[string]float64, pos domain.Position) {
	margin := pos.Margin()
	state.AvailableMargin -= margin
	state.OpenPositionIDs = append(state.OpenPositionIDs, pos.ID)
	if openMargin != nil {
		openMargin[pos.ID] = margin
	}
}

func applyTrade(state *domain.AccountState, history map[string]*symbolRecord, openMargin map[string]float64, trade domain.Trade) {
	rollDay(state, trade.ClosedAt.UTC())

	margin := trade.Size / trade.Leverage
	if openMargin != nil {
		if m, ok := openMargin[trade.PositionID]; ok {
			margin = m
			delete(openMargin, trade.PositionID)
		}
	}

	state.Equity += trade.RealizedPnL
	state.AvailableMargin += margin + trade.RealizedPnL
	state.DailyRealizedPnL += trade.RealizedPnL

	if trade.RealizedPnL < 0 {
		state.ConsecutiveLosses++
	} else {
		state.ConsecutiveLosses = 0
	}

	// Remove the closed position from the open set.
	ids := state.OpenPositionIDs[:0]
	for _, id := range state.OpenPositionIDs {
		if id != trade.PositionID {
			ids = append(ids, id)
		}
	}
	state.OpenPositionIDs = ids

	if history != nil {
		rec, ok := history[trade.Symbol]
		if !ok {
			rec = &symbolRecord{}
			history[trade.Symbol] = rec
		}
		if trade.Won() {
			rec.wins++
		} else {
			rec.losses++
		}
	}
}

// rollDay resets the daily figures when the trading day has advanced past
// the one the state refers to.
func rollDay(state *domain.AccountState, now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if state.Day.IsZero() {
		state.Day = day
		if state.EquityAtDayStart == 0 {
			state.EquityAtDayStart = state.Equity
		}
		return
	}
	if day.After(state.Day) {
		state.Day = day
		state.EquityAtDayStart = state.Equity
		state.DailyRealizedPnL = 0
	}
}
