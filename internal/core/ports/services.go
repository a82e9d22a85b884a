package ports

import (
	"context"

	"currency-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CurrencyRegistry resolves currency configuration by name. Read-only after
// startup.
type CurrencyRegistry interface {
	Lookup(name string) (domain.Currency, error)
	All() []domain.Currency
}

// BalanceCache is the in-process, non-authoritative mirror of user balances.
// It is never consulted for sufficiency checks.
type BalanceCache interface {
	// Balance returns a cached balance; ok is false on cache miss.
	Balance(userID uuid.UUID, currency string) (balance float64, ok bool)
	// Put installs (or replaces) a user's full balance map.
	Put(userID uuid.UUID, balances map[string]float64)
	// ApplyDelta adjusts a cached balance. No-op when the user has no live entry.
	ApplyDelta(userID uuid.UUID, currency string, delta float64)
	// Set overwrites a cached balance. No-op when the user has no live entry.
	Set(userID uuid.UUID, currency string, amount float64)
	// Invalidate drops a user's entry.
	Invalidate(userID uuid.UUID)
}

// RecalcCooldown guards recalculation against re-entrant cascades. TryAcquire
// reports true when the user may be recalculated now; a false result means
// the user is inside the suppression window and must be skipped this pass.
// Release drops the window early when an acquired pass fails before
// completing, so the caller can retry without waiting it out.
type RecalcCooldown interface {
	TryAcquire(ctx context.Context, userID uuid.UUID) (bool, error)
	Release(ctx context.Context, userID uuid.UUID) error
}

// PayResult carries the two legs of a completed payment.
type PayResult struct {
	Withdrawal *domain.Transaction
	Deposit    *domain.Transaction
}

// LedgerService is the engine deriving balances from the transaction log.
type LedgerService interface {
	Deposit(ctx context.Context, userID uuid.UUID, currency string, amount float64, reason string, linker *domain.Linker) (*domain.Transaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount float64, reason string, linker *domain.Linker) (*domain.Transaction, error)
	Set(ctx context.Context, userID uuid.UUID, currency string, amount float64, reason string, linker *domain.Linker) (*domain.Transaction, error)
	Pay(ctx context.Context, fromID, toID uuid.UUID, currency string, amount float64) (*PayResult, error)

	Balance(ctx context.Context, userID uuid.UUID, currency string) (float64, error)
	History(ctx context.Context, userID uuid.UUID, currency string) ([]domain.Transaction, error)
	Transactions(ctx context.Context, userID uuid.UUID, deleted bool, limit, skip int) ([]domain.Transaction, error)
	TransactionCount(ctx context.Context, userID uuid.UUID, deleted bool) (int64, error)
	Linked(ctx context.Context, linkerID uuid.UUID) ([]domain.Transaction, error)
	TopBalances(ctx context.Context, currency string, limit, skip int) ([]domain.UserBalance, error)

	Invalidate(ctx context.Context, txID uuid.UUID) error
	Validate(ctx context.Context, txID uuid.UUID) error
	// Recalculate returns the user ids touched by the pass (the subject plus
	// every linked sibling scheduled for cascade); nil means the pass was
	// suppressed by the cooldown.
	Recalculate(ctx context.Context, userID uuid.UUID, currency string) ([]uuid.UUID, error)

	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// TokenService issues and validates admin bearer tokens.
type TokenService interface {
	Generate(subject string) (token string, expiresAtUnix int64, err error)
	Validate(token string) (subject string, err error)
}
