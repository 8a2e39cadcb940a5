package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. The account
// table holds a single row.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Save upserts the account balance and realized PnL.
func (s *AccountStore) Save(ctx context.Context, balance, realizedPnL float64) error {
	const query = `
		INSERT INTO account (id, balance, realized_pnl, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			balance      = EXCLUDED.balance,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at   = NOW()`

	if _, err := s.pool.Exec(ctx, query, balance, realizedPnL); err != nil {
		return fmt.Errorf("postgres: save account: %w", err)
	}
	return nil
}

// Load returns the persisted balance and realized PnL, or domain.ErrNotFound
// when no account row exists yet.
func (s *AccountStore) Load(ctx context.Context) (balance, realizedPnL float64, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT balance, realized_pnl FROM account WHERE id = 1`,
	).Scan(&balance, &realizedPnL)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: load account: %w", err)
	}
	return balance, realizedPnL, nil
}
