package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Only the
// durable entry-side fields are persisted; mark-to-market values are derived
// live from the feed.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts or replaces the position row for a market.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, condition_id, yes_tokens, no_tokens,
			yes_entry_price, no_entry_price, total_entry_cost,
			opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id) DO UPDATE SET
			condition_id     = EXCLUDED.condition_id,
			yes_tokens       = EXCLUDED.yes_tokens,
			no_tokens        = EXCLUDED.no_tokens,
			yes_entry_price  = EXCLUDED.yes_entry_price,
			no_entry_price   = EXCLUDED.no_entry_price,
			total_entry_cost = EXCLUDED.total_entry_cost,
			updated_at       = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		pos.MarketID, pos.ConditionID, pos.YesTokens, pos.NoTokens,
		pos.YesEntryPrice, pos.NoEntryPrice, pos.TotalEntryCost,
		pos.OpenedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.MarketID, err)
	}
	return nil
}

// Delete removes the position row for a market. Deleting a missing row is a
// no-op.
func (s *PositionStore) Delete(ctx context.Context, marketID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", marketID, err)
	}
	return nil
}

// List returns all persisted positions.
func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT market_id, condition_id, yes_tokens, no_tokens,
			yes_entry_price, no_entry_price, total_entry_cost,
			opened_at, updated_at
		FROM positions ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.MarketID, &p.ConditionID, &p.YesTokens, &p.NoTokens,
			&p.YesEntryPrice, &p.NoEntryPrice, &p.TotalEntryCost,
			&p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
