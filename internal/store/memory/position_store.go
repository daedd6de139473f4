package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// PositionStore is an in-memory implementation of domain.PositionStore.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

// NewPositionStore returns an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Create stores a new position.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[pos.ID] = pos
	return nil
}

// GetByID returns the position with the given id.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// GetOpen returns all open positions.
func (s *PositionStore) GetOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetOpenBySymbol returns open positions for one symbol.
func (s *PositionStore) GetOpenBySymbol(_ context.Context, symbol string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen && p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close transitions a position out of OPEN. Closing an already-terminal
// position returns the stored position unchanged so exit checks stay
// idempotent.
func (s *PositionStore) Close(_ context.Context, id string, status domain.PositionStatus, exitPrice, realizedPnL float64, closedAt time.Time) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if pos.Status != domain.PositionStatusOpen {
		return pos, nil
	}

	pos.Status = status
	pos.ExitPrice = &exitPrice
	pos.RealizedPnL = &realizedPnL
	pos.ClosedAt = &closedAt
	s.positions[id] = pos
	return pos, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
