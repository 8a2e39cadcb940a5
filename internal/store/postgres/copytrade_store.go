package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore using PostgreSQL. The
// transaction hash primary key makes detection inserts idempotent across
// restarts.
type CopyTradeStore struct {
	pool *pgxpool.Pool
}

// NewCopyTradeStore creates a new CopyTradeStore backed by the given pool.
func NewCopyTradeStore(pool *pgxpool.Pool) *CopyTradeStore {
	return &CopyTradeStore{pool: pool}
}

// InsertDetected records a detected trade. Re-inserting a known hash is a
// no-op.
func (s *CopyTradeStore) InsertDetected(ctx context.Context, dt domain.DetectedTrade) error {
	const query = `
		INSERT INTO copy_trades (
			tx_hash, user_address, market_id, activity_type, outcome, side,
			source_price, source_size, copy_size,
			executed, execution_error, detected_at, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tx_hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		dt.TxHash, dt.User, dt.MarketID, dt.Type, dt.Outcome, dt.Side,
		dt.SourcePrice, dt.SourceSize, dt.CopySize,
		dt.Executed, dt.ExecutionError, dt.DetectedAt, dt.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert copy trade %s: %w", dt.TxHash, err)
	}
	return nil
}

// MarkOutcome records the execution result for a detected trade. Executed
// only transitions to true and the error string is written once.
func (s *CopyTradeStore) MarkOutcome(ctx context.Context, txHash string, executed bool, execErr string) error {
	const query = `
		UPDATE copy_trades SET
			executed        = copy_trades.executed OR $2,
			executed_at     = CASE WHEN $2 AND NOT copy_trades.executed THEN NOW() ELSE executed_at END,
			execution_error = CASE WHEN copy_trades.execution_error = '' THEN $3 ELSE execution_error END
		WHERE tx_hash = $1`

	if _, err := s.pool.Exec(ctx, query, txHash, executed, execErr); err != nil {
		return fmt.Errorf("postgres: mark copy trade %s: %w", txHash, err)
	}
	return nil
}

// ListRecent returns detected trades ordered newest first.
func (s *CopyTradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.DetectedTrade, error) {
	query := `
		SELECT tx_hash, user_address, market_id, activity_type, outcome, side,
			source_price, source_size, copy_size,
			executed, execution_error, detected_at, executed_at
		FROM copy_trades ORDER BY detected_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades: %w", err)
	}
	defer rows.Close()

	var detected []domain.DetectedTrade
	for rows.Next() {
		var dt domain.DetectedTrade
		if err := rows.Scan(
			&dt.TxHash, &dt.User, &dt.MarketID, &dt.Type, &dt.Outcome, &dt.Side,
			&dt.SourcePrice, &dt.SourceSize, &dt.CopySize,
			&dt.Executed, &dt.ExecutionError, &dt.DetectedAt, &dt.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan copy trade: %w", err)
		}
		detected = append(detected, dt)
	}
	return detected, rows.Err()
}
