package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlabs/marginbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, entry_price, size, leverage,
	stop_loss_price, take_profit_price, liquidation_price, status,
	opened_at, closed_at, exit_price, realized_pnl`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	err := row.Scan(
		&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.Size, &p.Leverage,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.LiquidationPrice, &status,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Direction(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position row.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (
			id, symbol, side, entry_price, size, leverage,
			stop_loss_price, take_profit_price, liquidation_price,
			status, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pos.ID, pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Size,
		pos.Leverage, pos.StopLossPrice, pos.TakeProfitPrice,
		pos.LiquidationPrice, string(pos.Status), pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return nil
}

// GetByID returns a single position or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// GetOpen returns all open positions.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'open' ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetOpenBySymbol returns open positions for one symbol.
func (s *PositionStore) GetOpenBySymbol(ctx context.Context, symbol string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'open' AND symbol = $1 ORDER BY opened_at ASC`,
		symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions for %s: %w", symbol, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// Close transitions a position out of OPEN. The UPDATE is guarded on the
// current status so closing an already-terminal position is a no-op; the
// stored row is returned either way.
func (s *PositionStore) Close(ctx context.Context, id string, status domain.PositionStatus, exitPrice, realizedPnL float64, closedAt time.Time) (domain.Position, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET status = $2, exit_price = $3, realized_pnl = $4, closed_at = $5
		WHERE id = $1 AND status = 'open'`,
		id, string(status), exitPrice, realizedPnL, closedAt,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

var _ domain.PositionStore = (*PositionStore)(nil)
