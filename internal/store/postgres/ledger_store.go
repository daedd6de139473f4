package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlabs/marginbot/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Entries are
// stored as one JSONB payload per row with a serial sequence id.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// ledgerPayload is the JSONB shape of one entry. Exactly one field is set.
type ledgerPayload struct {
	Position  *domain.Position  `json:"position,omitempty"`
	Trade     *domain.Trade     `json:"trade,omitempty"`
	Rejection *domain.Rejection `json:"rejection,omitempty"`
}

// Append writes one entry and returns it with the assigned sequence id.
func (s *LedgerStore) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	payload, err := json.Marshal(ledgerPayload{
		Position:  entry.Position,
		Trade:     entry.Trade,
		Rejection: entry.Rejection,
	})
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: marshal ledger payload: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (kind, recorded_at, payload)
		VALUES ($1, $2, $3)
		RETURNING seq`,
		string(entry.Kind), entry.RecordedAt, payload,
	).Scan(&entry.Seq)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: append ledger entry: %w", err)
	}
	return entry, nil
}

func scanLedgerRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e    domain.LedgerEntry
			kind string
			raw  []byte
		)
		if err := rows.Scan(&e.Seq, &kind, &e.RecordedAt, &raw); err != nil {
			return nil, err
		}
		e.Kind = domain.LedgerEntryKind(kind)

		var p ledgerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal entry %d: %w", e.Seq, err)
		}
		e.Position = p.Position
		e.Trade = p.Trade
		e.Rejection = p.Rejection
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns all entries with seq > afterSeq in ascending order.
func (s *LedgerStore) List(ctx context.Context, afterSeq int64) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, kind, recorded_at, payload
		FROM ledger_entries
		WHERE seq > $1
		ORDER BY seq ASC`,
		afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger entries: %w", err)
	}
	return entries, nil
}

// ListBefore returns entries recorded strictly before cutoff, for archival.
func (s *LedgerStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, kind, recorded_at, payload
		FROM ledger_entries
		WHERE recorded_at < $1
		ORDER BY seq ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries before %s: %w", cutoff, err)
	}
	defer rows.Close()

	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger entries: %w", err)
	}
	return entries, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
