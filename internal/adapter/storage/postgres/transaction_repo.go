package postgres

import (
	"context"
	"errors"
	"fmt"

	"currency-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const txColumns = "id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason, deleted"

// TransactionRepo implements ports.TransactionRepository over two tables:
// transactions (the active set) and deleted_transactions (the soft-deleted
// set). Records move between the tables instead of being edited in place, so
// both sets stay O(1)-filterable by membership.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func tableFor(deleted bool) string {
	if deleted {
		return "deleted_transactions"
	}
	return "transactions"
}

// Insert appends a transaction to the active set within a database transaction.
func (r *TransactionRepo) Insert(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var linkerID *uuid.UUID
	var linkerReason *string
	if t.Linker != nil {
		linkerID = &t.Linker.ID
		linkerReason = &t.Linker.Reason
	}

	_, err := tx.Exec(ctx, query,
		t.ID, t.Currency, t.Amount, t.Type, t.UserID,
		t.Reason, t.Timestamp, linkerID, linkerReason, t.Deleted,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetActive fetches a transaction from the active set. Returns nil, nil when absent.
func (r *TransactionRepo) GetActive(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.getFrom(ctx, tableFor(false), id)
}

// GetDeleted fetches a transaction from the deleted set. Returns nil, nil when absent.
func (r *TransactionRepo) GetDeleted(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.getFrom(ctx, tableFor(true), id)
}

func (r *TransactionRepo) getFrom(ctx context.Context, table string, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", txColumns, table)
	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction from %s: %w", table, err)
	}
	return t, nil
}

// ListByUserCurrency returns a user's active transactions for one currency in
// timestamp order, oldest first. This is the fold input for recalculation.
func (r *TransactionRepo) ListByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) ([]domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions
		WHERE user_id = $1 AND currency = $2 ORDER BY ts ASC`, txColumns)

	rows, err := r.pool.Query(ctx, query, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("list transactions by user+currency: %w", err)
	}
	return collectTransactions(rows)
}

// ListByUser pages a user's records newest first from the active or deleted set.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, deleted bool, limit, skip int) ([]domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = $1 ORDER BY ts DESC LIMIT $2 OFFSET $3`, txColumns, tableFor(deleted))

	rows, err := r.pool.Query(ctx, query, userID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list transactions by user: %w", err)
	}
	return collectTransactions(rows)
}

// CountByUser counts a user's records in the active or deleted set.
func (r *TransactionRepo) CountByUser(ctx context.Context, userID uuid.UUID, deleted bool) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = $1", tableFor(deleted))

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions by user: %w", err)
	}
	return count, nil
}

// ListByLinker returns every record of a linked group from the active or
// deleted set.
func (r *TransactionRepo) ListByLinker(ctx context.Context, linkerID uuid.UUID, deleted bool) ([]domain.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE linker_id = $1", txColumns, tableFor(deleted))

	rows, err := r.pool.Query(ctx, query, linkerID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by linker: %w", err)
	}
	return collectTransactions(rows)
}

// MoveToDeleted transfers a record from the active to the deleted set,
// setting its deleted flag, as a single statement inside the session.
func (r *TransactionRepo) MoveToDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	query := `WITH moved AS (
			DELETE FROM transactions WHERE id = $1
			RETURNING id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason
		)
		INSERT INTO deleted_transactions (id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason, deleted)
		SELECT id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason, TRUE FROM moved`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("move transaction to deleted set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not in active set: %s", id)
	}
	return nil
}

// MoveToActive transfers a record from the deleted back to the active set,
// clearing its deleted flag.
func (r *TransactionRepo) MoveToActive(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	query := `WITH moved AS (
			DELETE FROM deleted_transactions WHERE id = $1
			RETURNING id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason
		)
		INSERT INTO transactions (id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason, deleted)
		SELECT id, currency, amount, tx_type, user_id, reason, ts, linker_id, linker_reason, FALSE FROM moved`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("move transaction to active set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not in deleted set: %s", id)
	}
	return nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction decodes one row into a Transaction, rebuilding the
// paired-or-absent linker from its nullable columns.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var linkerID *uuid.UUID
	var linkerReason *string

	err := row.Scan(
		&t.ID, &t.Currency, &t.Amount, &t.Type, &t.UserID,
		&t.Reason, &t.Timestamp, &linkerID, &linkerReason, &t.Deleted,
	)
	if err != nil {
		return nil, err
	}

	if linkerID != nil {
		reason := ""
		if linkerReason != nil {
			reason = *linkerReason
		}
		t.Linker = &domain.Linker{ID: *linkerID, Reason: reason}
	}
	return t, nil
}
