package domain

import (
	"context"
	"time"
)

// LedgerStore persists the append-only trade ledger.
type LedgerStore interface {
	// Append writes one entry and returns it with Seq assigned.
	Append(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	// List returns all entries with Seq > afterSeq in ascending order.
	List(ctx context.Context, afterSeq int64) ([]LedgerEntry, error)
	// ListBefore returns entries recorded strictly before cutoff, for archival.
	ListBefore(ctx context.Context, cutoff time.Time) ([]LedgerEntry, error)
}

// PositionStore persists positions. Only the position lifecycle manager
// writes to it.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpen(ctx context.Context) ([]Position, error)
	GetOpenBySymbol(ctx context.Context, symbol string) ([]Position, error)
	// Close transitions a position out of OPEN. It fails with ErrNotFound when
	// the position does not exist and returns the stored position unchanged
	// when it is already terminal, so exit checks stay idempotent.
	Close(ctx context.Context, id string, status PositionStatus, exitPrice, realizedPnL float64, closedAt time.Time) (Position, error)
}

// PriceCache caches last prices and a bounded window of recent closes per
// symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	PushClose(ctx context.Context, symbol string, price float64) error
	RecentCloses(ctx context.Context, symbol string, n int) ([]float64, error)
}

// EventBus carries fire-and-forget engine events (trade opened/closed,
// breaker tripped, execution errors) to out-of-process consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed locks so two replicas never run the same
// symbol cycle concurrently.
type LockManager interface {
	// Acquire returns an unlock func on success or ErrLockHeld when the lock
	// is owned by another party.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
