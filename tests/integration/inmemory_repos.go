package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"currency-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Transaction Repo ---

// txRecord pairs a stored transaction with an insertion sequence so that
// records with identical timestamps keep a stable order.
type txRecord struct {
	t   domain.Transaction
	seq int
}

type inMemoryTransactionRepo struct {
	mu      sync.RWMutex
	nextSeq int
	active  map[uuid.UUID]txRecord
	deleted map[uuid.UUID]txRecord
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{
		active:  make(map[uuid.UUID]txRecord),
		deleted: make(map[uuid.UUID]txRecord),
	}
}

func (r *inMemoryTransactionRepo) Insert(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[t.ID] = txRecord{t: *t, seq: r.nextSeq}
	r.nextSeq++
	return nil
}

func (r *inMemoryTransactionRepo) GetActive(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.active[id]
	if !ok {
		return nil, nil
	}
	t := rec.t
	return &t, nil
}

func (r *inMemoryTransactionRepo) GetDeleted(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.deleted[id]
	if !ok {
		return nil, nil
	}
	t := rec.t
	return &t, nil
}

func (r *inMemoryTransactionRepo) ListByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var recs []txRecord
	for _, rec := range r.active {
		if rec.t.UserID == userID && rec.t.Currency == currency {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].t.Timestamp.Equal(recs[j].t.Timestamp) {
			return recs[i].seq < recs[j].seq
		}
		return recs[i].t.Timestamp.Before(recs[j].t.Timestamp)
	})
	out := make([]domain.Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.t)
	}
	return out, nil
}

func (r *inMemoryTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, deleted bool, limit, skip int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var recs []txRecord
	for _, rec := range r.set(deleted) {
		if rec.t.UserID == userID {
			recs = append(recs, rec)
		}
	}
	// Newest first
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].t.Timestamp.Equal(recs[j].t.Timestamp) {
			return recs[i].seq > recs[j].seq
		}
		return recs[i].t.Timestamp.After(recs[j].t.Timestamp)
	})
	if skip >= len(recs) {
		return []domain.Transaction{}, nil
	}
	recs = recs[skip:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	out := make([]domain.Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.t)
	}
	return out, nil
}

func (r *inMemoryTransactionRepo) CountByUser(ctx context.Context, userID uuid.UUID, deleted bool) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, rec := range r.set(deleted) {
		if rec.t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *inMemoryTransactionRepo) ListByLinker(ctx context.Context, linkerID uuid.UUID, deleted bool) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var recs []txRecord
	for _, rec := range r.set(deleted) {
		if rec.t.Linker != nil && rec.t.Linker.ID == linkerID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]domain.Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.t)
	}
	return out, nil
}

func (r *inMemoryTransactionRepo) MoveToDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[id]
	if !ok {
		return fmt.Errorf("transaction not in active set: %s", id)
	}
	delete(r.active, id)
	rec.t.Deleted = true
	r.deleted[id] = rec
	return nil
}

func (r *inMemoryTransactionRepo) MoveToActive(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.deleted[id]
	if !ok {
		return fmt.Errorf("transaction not in deleted set: %s", id)
	}
	delete(r.deleted, id)
	rec.t.Deleted = false
	r.active[id] = rec
	return nil
}

func (r *inMemoryTransactionRepo) set(deleted bool) map[uuid.UUID]txRecord {
	if deleted {
		return r.deleted
	}
	return r.active
}

// --- In-Memory Balance Repo ---

type inMemoryBalanceRepo struct {
	mu       sync.RWMutex
	balances map[uuid.UUID]map[string]float64
}

func newInMemoryBalanceRepo() *inMemoryBalanceRepo {
	return &inMemoryBalanceRepo{balances: make(map[uuid.UUID]map[string]float64)}
}

func (r *inMemoryBalanceRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.UserBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, ok := r.balances[userID]
	if !ok {
		return nil, nil
	}
	ub := domain.NewUserBalance(userID)
	for cur, bal := range rows {
		ub.Balances[cur] = bal
	}
	return ub, nil
}

func (r *inMemoryBalanceRepo) Create(ctx context.Context, tx pgx.Tx, ub *domain.UserBalance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.balances[ub.UserID]
	if !ok {
		rows = make(map[string]float64)
		r.balances[ub.UserID] = rows
	}
	for cur, bal := range ub.Balances {
		if _, exists := rows[cur]; !exists {
			rows[cur] = bal
		}
	}
	return nil
}

func (r *inMemoryBalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, ok := r.balances[userID]
	if !ok {
		return 0, false, nil
	}
	bal, ok := rows[currency]
	return bal, ok, nil
}

func (r *inMemoryBalanceRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.balances[userID]
	if !ok {
		rows = make(map[string]float64)
		r.balances[userID] = rows
	}
	rows[currency] += delta
	return nil
}

func (r *inMemoryBalanceRepo) SetBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.balances[userID]
	if !ok {
		rows = make(map[string]float64)
		r.balances[userID] = rows
	}
	rows[currency] = amount
	return nil
}

func (r *inMemoryBalanceRepo) TopBalances(ctx context.Context, currency string, limit, skip int) ([]domain.UserBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.UserBalance
	for userID, rows := range r.balances {
		bal, ok := rows[currency]
		if !ok {
			continue
		}
		out = append(out, domain.UserBalance{
			UserID:   userID,
			Balances: map[string]float64{currency: bal},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].Balances[currency], out[j].Balances[currency]
		if bi == bj {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return bi > bj
	})
	if skip >= len(out) {
		return []domain.UserBalance{}, nil
	}
	out = out[skip:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryBalanceRepo) UserCount(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.balances)), nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

func (t *inMemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, &noopTx{})
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
