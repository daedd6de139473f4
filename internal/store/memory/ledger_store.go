// Package memory implements the domain store interfaces in process memory.
// It backs paper-trading mode and tests; live mode uses the postgres
// implementations.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// LedgerStore is an append-only in-memory ledger with monotone sequence ids.
type LedgerStore struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
	nextSeq int64
}

// NewLedgerStore returns an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{nextSeq: 1}
}

// Append writes one entry and returns it with Seq assigned.
func (s *LedgerStore) Append(_ context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Seq = s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, entry)
	return entry, nil
}

// List returns all entries with Seq > afterSeq in ascending order.
func (s *LedgerStore) List(_ context.Context, afterSeq int64) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListBefore returns entries recorded strictly before cutoff.
func (s *LedgerStore) ListBefore(_ context.Context, cutoff time.Time) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.RecordedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
