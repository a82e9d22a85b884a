package postgres

import (
	"context"
	"errors"
	"fmt"

	"currency-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BalanceRepo implements ports.BalanceRepository over the user_balances table,
// one row per user-currency pair.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// Get loads every currency row for a user into one UserBalance.
// Returns nil, nil when the user has no rows at all.
func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.UserBalance, error) {
	query := `SELECT currency, balance FROM user_balances WHERE user_id = $1`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get user balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]float64)
	for rows.Next() {
		var currency string
		var balance float64
		if err := rows.Scan(&currency, &balance); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		balances[currency] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}

	if len(balances) == 0 {
		return nil, nil
	}
	return &domain.UserBalance{UserID: userID, Balances: balances}, nil
}

// Create inserts the initial per-currency rows for a user inside a session.
func (r *BalanceRepo) Create(ctx context.Context, tx pgx.Tx, ub *domain.UserBalance) error {
	query := `INSERT INTO user_balances (user_id, currency, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency) DO NOTHING`

	for currency, balance := range ub.Balances {
		if _, err := tx.Exec(ctx, query, ub.UserID, currency, balance); err != nil {
			return fmt.Errorf("create balance row: %w", err)
		}
	}
	return nil
}

// GetForUpdate reads one user-currency balance under a row lock. Concurrent
// mutations of the same balance serialize on this lock until commit.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (float64, bool, error) {
	query := `SELECT balance FROM user_balances
		WHERE user_id = $1 AND currency = $2 FOR UPDATE`

	var balance float64
	err := tx.QueryRow(ctx, query, userID, currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get balance for update: %w", err)
	}
	return balance, true, nil
}

// ApplyDelta increments a balance, creating the row at the delta if absent.
func (r *BalanceRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, delta float64) error {
	query := `INSERT INTO user_balances (user_id, currency, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency)
		DO UPDATE SET balance = user_balances.balance + EXCLUDED.balance`

	if _, err := tx.Exec(ctx, query, userID, currency, delta); err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	return nil
}

// SetBalance overwrites a balance, creating the row if absent.
func (r *BalanceRepo) SetBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount float64) error {
	query := `INSERT INTO user_balances (user_id, currency, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency)
		DO UPDATE SET balance = EXCLUDED.balance`

	if _, err := tx.Exec(ctx, query, userID, currency, amount); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// TopBalances returns the highest balances for one currency, descending.
func (r *BalanceRepo) TopBalances(ctx context.Context, currency string, limit, skip int) ([]domain.UserBalance, error) {
	query := `SELECT user_id, balance FROM user_balances
		WHERE currency = $1 ORDER BY balance DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, currency, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list top balances: %w", err)
	}
	defer rows.Close()

	var top []domain.UserBalance
	for rows.Next() {
		var userID uuid.UUID
		var balance float64
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, fmt.Errorf("scan top balance row: %w", err)
		}
		top = append(top, domain.UserBalance{
			UserID:   userID,
			Balances: map[string]float64{currency: balance},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top balance rows: %w", err)
	}
	return top, nil
}

// UserCount counts distinct users holding at least one balance row.
func (r *BalanceRepo) UserCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(DISTINCT user_id) FROM user_balances").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}
