package ports

import (
	"context"

	"currency-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepository owns the active and deleted transaction record sets.
// Methods accepting pgx.Tx are used inside atomic sessions.
type TransactionRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	// GetActive / GetDeleted return nil, nil when the id is not in that set.
	GetActive(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetDeleted(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// ListByUserCurrency returns active transactions in timestamp order,
	// oldest first. This is the fold input for recalculation and history.
	ListByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) ([]domain.Transaction, error)
	// ListByUser pages a user's records newest first from the active or
	// deleted set.
	ListByUser(ctx context.Context, userID uuid.UUID, deleted bool, limit, skip int) ([]domain.Transaction, error)
	CountByUser(ctx context.Context, userID uuid.UUID, deleted bool) (int64, error)
	// ListByLinker returns every transaction in a linked group from either
	// the active or the deleted set.
	ListByLinker(ctx context.Context, linkerID uuid.UUID, deleted bool) ([]domain.Transaction, error)
	// MoveToDeleted / MoveToActive transfer a record between sets, flipping
	// its deleted flag. They report pgx.ErrNoRows-free "not found" as an error.
	MoveToDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	MoveToActive(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// BalanceRepository persists the materialized per-user balance records.
type BalanceRepository interface {
	// Get returns nil, nil when the user has no record yet.
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserBalance, error)
	// Create inserts the initial per-currency rows for a user.
	Create(ctx context.Context, tx pgx.Tx, ub *domain.UserBalance) error
	// GetForUpdate reads one user-currency balance under a row lock.
	// found is false when the user has no row for that currency.
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (balance float64, found bool, err error)
	// ApplyDelta increments (or decrements) a balance, creating the row if absent.
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, delta float64) error
	// SetBalance overwrites a balance, creating the row if absent.
	SetBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount float64) error
	// TopBalances returns the highest balances for a currency, descending.
	TopBalances(ctx context.Context, currency string, limit, skip int) ([]domain.UserBalance, error)
	UserCount(ctx context.Context) (int64, error)
}

// DBTransactor provides atomic backend sessions.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// WithinTx runs fn inside one session; any error rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}
