package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"currency-ledger/config"
	"currency-ledger/internal/core/domain"
	"currency-ledger/internal/core/ports/mocks"
	"currency-ledger/internal/registry"
	"currency-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Test currencies: coins rejects overdrafts and supports payments, gems
// allows negative balances but not payments.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]config.CurrencyConfig{
		{Name: "coin", Plural: "coins", Symbol: "$", AllowsNegatives: false, AllowsPay: true, DefaultBalance: 100},
		{Name: "gem", Plural: "gems", AllowsNegatives: true, AllowsPay: false, DefaultBalance: 0},
	})
	require.NoError(t, err)
	return reg
}

type ledgerTestDeps struct {
	svc        *LedgerServiceImpl
	txRepo     *mocks.MockTransactionRepository
	balRepo    *mocks.MockBalanceRepository
	transactor *mocks.MockDBTransactor
	cache      *mocks.MockBalanceCache
	cooldown   *mocks.MockRecalcCooldown
	ctrl       *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		balRepo:    mocks.NewMockBalanceRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		cache:      mocks.NewMockBalanceCache(ctrl),
		cooldown:   mocks.NewMockRecalcCooldown(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewLedgerService(
		d.txRepo, d.balRepo, d.transactor, testRegistry(t),
		d.cache, d.cooldown, time.Millisecond, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// expectWithinTx makes the transactor run the session body against a mockTx.
func (d *ledgerTestDeps) expectWithinTx() {
	d.transactor.EXPECT().WithinTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return fn(ctx, &mockTx{})
		})
}

func assertAppCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

// ==================== Deposit ====================

func TestLedgerService_Deposit_Success(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "coin").Return(50.0, true, nil)
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.balRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any(), userID, "coin", 25.0).Return(nil)
	d.cache.EXPECT().ApplyDelta(userID, "coin", 25.0)

	txn, err := d.svc.Deposit(ctx, userID, "coin", 25, "quest reward", nil)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, domain.TransactionTypeDeposit, txn.Type)
	assert.Equal(t, 25.0, txn.Amount)
	assert.Equal(t, userID, txn.UserID)
	assert.Equal(t, "quest reward", txn.Reason)
	assert.False(t, txn.Deleted)
}

func TestLedgerService_Deposit_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t)

	_, err := d.svc.Deposit(context.Background(), uuid.New(), "coin", 0, "reason", nil)
	assertAppCode(t, err, "LED_001")

	_, err = d.svc.Deposit(context.Background(), uuid.New(), "coin", -5, "reason", nil)
	assertAppCode(t, err, "LED_001")
}

func TestLedgerService_Deposit_MissingReason(t *testing.T) {
	d := setupLedgerService(t)

	_, err := d.svc.Deposit(context.Background(), uuid.New(), "coin", 10, "", nil)
	assertAppCode(t, err, "LED_001")
}

func TestLedgerService_Deposit_UnknownCurrency(t *testing.T) {
	d := setupLedgerService(t)

	_, err := d.svc.Deposit(context.Background(), uuid.New(), "doubloons", 10, "reason", nil)
	assertAppCode(t, err, "CUR_001")
}

func TestLedgerService_Deposit_NewUserGetsDefaults(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "coin").Return(0.0, false, nil)
	d.balRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, ub *domain.UserBalance) error {
			assert.Equal(t, userID, ub.UserID)
			assert.Equal(t, 100.0, ub.Balances["coin"])
			assert.Equal(t, 0.0, ub.Balances["gem"])
			return nil
		})
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.balRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any(), userID, "coin", 10.0).Return(nil)
	d.cache.EXPECT().ApplyDelta(userID, "coin", 10.0)

	_, err := d.svc.Deposit(ctx, userID, "coin", 10, "signup bonus", nil)
	require.NoError(t, err)
}

// ==================== Withdraw ====================

func TestLedgerService_Withdraw_Success(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "coin").Return(50.0, true, nil)
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.balRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any(), userID, "coin", -30.0).Return(nil)
	d.cache.EXPECT().ApplyDelta(userID, "coin", -30.0)

	txn, err := d.svc.Withdraw(ctx, userID, "coin", 30, "shop purchase", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeWithdrawal, txn.Type)
	assert.Equal(t, 30.0, txn.Amount)
}

func TestLedgerService_Withdraw_InsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "coin").Return(10.0, true, nil)
	// No insert, no delta: the session aborts before any write.

	_, err := d.svc.Withdraw(ctx, userID, "coin", 25, "too expensive", nil)
	assertAppCode(t, err, "LED_002")
}

func TestLedgerService_Withdraw_NegativesAllowed(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "gem").Return(0.0, true, nil)
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.balRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any(), userID, "gem", -5.0).Return(nil)
	d.cache.EXPECT().ApplyDelta(userID, "gem", -5.0)

	_, err := d.svc.Withdraw(ctx, userID, "gem", 5, "going into debt", nil)
	require.NoError(t, err, "currency allowing negatives should permit overdraft")
}

// ==================== Set ====================

func TestLedgerService_Set_Success(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "coin").Return(42.0, true, nil)
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.TransactionTypeOverride, txn.Type)
			return nil
		})
	d.balRepo.EXPECT().SetBalance(gomock.Any(), gomock.Any(), userID, "coin", 500.0).Return(nil)
	d.cache.EXPECT().Set(userID, "coin", 500.0)

	txn, err := d.svc.Set(ctx, userID, "coin", 500, "admin adjustment", nil)
	require.NoError(t, err)
	assert.Equal(t, 500.0, txn.Amount)
}

func TestLedgerService_Set_NegativeRejected(t *testing.T) {
	d := setupLedgerService(t)

	_, err := d.svc.Set(context.Background(), uuid.New(), "coin", -10, "reason", nil)
	assertAppCode(t, err, "LED_001")

	// Record amounts stay non-negative even when the currency allows
	// negative balances; only folds may go below zero.
	_, err = d.svc.Set(context.Background(), uuid.New(), "gem", -10, "debt assignment", nil)
	assertAppCode(t, err, "LED_001")
}

func TestLedgerService_Set_ZeroIsValid(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), userID, "coin").Return(42.0, true, nil)
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.balRepo.EXPECT().SetBalance(gomock.Any(), gomock.Any(), userID, "coin", 0.0).Return(nil)
	d.cache.EXPECT().Set(userID, "coin", 0.0)

	_, err := d.svc.Set(ctx, userID, "coin", 0, "wipe", nil)
	require.NoError(t, err)
}

// ==================== Pay ====================

func TestLedgerService_Pay_Success(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	fromID := uuid.New()
	toID := uuid.New()

	var inserted []*domain.Transaction

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), fromID, "coin").Return(100.0, true, nil)
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), toID, "coin").Return(20.0, true, nil)
	d.txRepo.EXPECT().Insert(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			inserted = append(inserted, txn)
			return nil
		})
	d.balRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any(), fromID, "coin", -40.0).Return(nil)
	d.balRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any(), toID, "coin", 40.0).Return(nil)
	d.cache.EXPECT().ApplyDelta(fromID, "coin", -40.0)
	d.cache.EXPECT().ApplyDelta(toID, "coin", 40.0)

	result, err := d.svc.Pay(ctx, fromID, toID, "coin", 40)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, domain.TransactionTypeWithdrawal, result.Withdrawal.Type)
	assert.Equal(t, fromID, result.Withdrawal.UserID)
	assert.Equal(t, domain.TransactionTypeDeposit, result.Deposit.Type)
	assert.Equal(t, toID, result.Deposit.UserID)

	// Both legs share one linker.
	require.NotNil(t, result.Withdrawal.Linker)
	require.NotNil(t, result.Deposit.Linker)
	assert.Equal(t, result.Withdrawal.Linker.ID, result.Deposit.Linker.ID)
	assert.Len(t, inserted, 2)
}

func TestLedgerService_Pay_SelfPayment(t *testing.T) {
	d := setupLedgerService(t)
	userID := uuid.New()

	_, err := d.svc.Pay(context.Background(), userID, userID, "coin", 10)
	assertAppCode(t, err, "LED_007")
}

func TestLedgerService_Pay_CurrencyDisallowsPay(t *testing.T) {
	d := setupLedgerService(t)

	_, err := d.svc.Pay(context.Background(), uuid.New(), uuid.New(), "gem", 10)
	assertAppCode(t, err, "LED_006")
}

func TestLedgerService_Pay_InsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	fromID := uuid.New()
	toID := uuid.New()

	d.expectWithinTx()
	d.balRepo.EXPECT().GetForUpdate(gomock.Any(), gomock.Any(), fromID, "coin").Return(5.0, true, nil)

	_, err := d.svc.Pay(ctx, fromID, toID, "coin", 40)
	assertAppCode(t, err, "LED_002")
}

// ==================== Balance ====================

func TestLedgerService_Balance_CacheHit(t *testing.T) {
	d := setupLedgerService(t)
	userID := uuid.New()

	d.cache.EXPECT().Balance(userID, "coin").Return(77.0, true)

	balance, err := d.svc.Balance(context.Background(), userID, "coin")
	require.NoError(t, err)
	assert.Equal(t, 77.0, balance)
}

func TestLedgerService_Balance_CacheMissLoadsStore(t *testing.T) {
	d := setupLedgerService(t)
	userID := uuid.New()

	d.cache.EXPECT().Balance(userID, "coin").Return(0.0, false)
	d.balRepo.EXPECT().Get(gomock.Any(), userID).Return(&domain.UserBalance{
		UserID:   userID,
		Balances: map[string]float64{"coin": 33, "gem": 2},
	}, nil)
	d.cache.EXPECT().Put(userID, map[string]float64{"coin": 33, "gem": 2})

	balance, err := d.svc.Balance(context.Background(), userID, "coin")
	require.NoError(t, err)
	assert.Equal(t, 33.0, balance)
}

func TestLedgerService_Balance_LazyCreatesUser(t *testing.T) {
	d := setupLedgerService(t)
	userID := uuid.New()

	d.cache.EXPECT().Balance(userID, "coin").Return(0.0, false)
	d.balRepo.EXPECT().Get(gomock.Any(), userID).Return(nil, nil)
	d.expectWithinTx()
	d.balRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.cache.EXPECT().Put(userID, gomock.Any())

	balance, err := d.svc.Balance(context.Background(), userID, "coin")
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance, "unseen user starts at the currency default")
}

// ==================== Invalidate / Validate ====================

func TestLedgerService_Invalidate_Single(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := domain.NewTransaction("coin", 10, domain.TransactionTypeDeposit, userID, "r", nil)

	d.txRepo.EXPECT().GetActive(gomock.Any(), txn.ID).Return(txn, nil)
	d.expectWithinTx()
	d.txRepo.EXPECT().MoveToDeleted(gomock.Any(), gomock.Any(), txn.ID).Return(nil)
	// No recalculation runs here: the strict mocks reject any cooldown or
	// balance access, so the stored balance stays untouched until a caller
	// triggers Recalculate explicitly.

	err := d.svc.Invalidate(ctx, txn.ID)
	require.NoError(t, err)
}

func TestLedgerService_Invalidate_LinkedGroupMovesTogether(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	payer := uuid.New()
	payee := uuid.New()
	linker := &domain.Linker{ID: uuid.New(), Reason: "payment"}
	leg1 := domain.NewTransaction("coin", 10, domain.TransactionTypeWithdrawal, payer, "payment", linker)
	leg2 := domain.NewTransaction("coin", 10, domain.TransactionTypeDeposit, payee, "payment", linker)

	d.txRepo.EXPECT().GetActive(gomock.Any(), leg1.ID).Return(leg1, nil)
	d.txRepo.EXPECT().ListByLinker(gomock.Any(), linker.ID, false).Return([]domain.Transaction{*leg1, *leg2}, nil)
	d.expectWithinTx()
	d.txRepo.EXPECT().MoveToDeleted(gomock.Any(), gomock.Any(), leg1.ID).Return(nil)
	d.txRepo.EXPECT().MoveToDeleted(gomock.Any(), gomock.Any(), leg2.ID).Return(nil)
	// Neither user is recalculated by the move itself.

	err := d.svc.Invalidate(ctx, leg1.ID)
	require.NoError(t, err)
}

func TestLedgerService_Invalidate_AlreadyDeleted(t *testing.T) {
	d := setupLedgerService(t)
	id := uuid.New()

	d.txRepo.EXPECT().GetActive(gomock.Any(), id).Return(nil, nil)
	d.txRepo.EXPECT().GetDeleted(gomock.Any(), id).Return(&domain.Transaction{ID: id, Deleted: true}, nil)

	err := d.svc.Invalidate(context.Background(), id)
	assertAppCode(t, err, "LED_004")
}

func TestLedgerService_Invalidate_NotFound(t *testing.T) {
	d := setupLedgerService(t)
	id := uuid.New()

	d.txRepo.EXPECT().GetActive(gomock.Any(), id).Return(nil, nil)
	d.txRepo.EXPECT().GetDeleted(gomock.Any(), id).Return(nil, nil)

	err := d.svc.Invalidate(context.Background(), id)
	assertAppCode(t, err, "LED_003")
}

func TestLedgerService_Validate_Single(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := domain.NewTransaction("coin", 10, domain.TransactionTypeDeposit, userID, "r", nil)
	txn.Deleted = true

	d.txRepo.EXPECT().GetDeleted(gomock.Any(), txn.ID).Return(txn, nil)
	d.expectWithinTx()
	d.txRepo.EXPECT().MoveToActive(gomock.Any(), gomock.Any(), txn.ID).Return(nil)
	// Restoring does not recalculate either; the caller owns that step.

	err := d.svc.Validate(ctx, txn.ID)
	require.NoError(t, err)
}

func TestLedgerService_Validate_NotDeleted(t *testing.T) {
	d := setupLedgerService(t)
	id := uuid.New()

	d.txRepo.EXPECT().GetDeleted(gomock.Any(), id).Return(nil, nil)
	d.txRepo.EXPECT().GetActive(gomock.Any(), id).Return(&domain.Transaction{ID: id}, nil)

	err := d.svc.Validate(context.Background(), id)
	assertAppCode(t, err, "LED_005")
}

// ==================== Queries ====================

func TestLedgerService_Transactions_ClampsPaging(t *testing.T) {
	d := setupLedgerService(t)
	userID := uuid.New()

	d.txRepo.EXPECT().ListByUser(gomock.Any(), userID, false, defaultPageSize, 0).Return(nil, nil)

	_, err := d.svc.Transactions(context.Background(), userID, false, 0, -5)
	require.NoError(t, err)
}

func TestLedgerService_Linked_MergesBothSets(t *testing.T) {
	d := setupLedgerService(t)
	linkerID := uuid.New()
	active := domain.NewTransaction("coin", 5, domain.TransactionTypeDeposit, uuid.New(), "r", &domain.Linker{ID: linkerID})
	deleted := domain.NewTransaction("coin", 5, domain.TransactionTypeWithdrawal, uuid.New(), "r", &domain.Linker{ID: linkerID})
	deleted.Deleted = true

	d.txRepo.EXPECT().ListByLinker(gomock.Any(), linkerID, false).Return([]domain.Transaction{*active}, nil)
	d.txRepo.EXPECT().ListByLinker(gomock.Any(), linkerID, true).Return([]domain.Transaction{*deleted}, nil)

	list, err := d.svc.Linked(context.Background(), linkerID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].Deleted)
	assert.True(t, list[1].Deleted)
}

func TestLedgerService_TopBalances(t *testing.T) {
	d := setupLedgerService(t)
	rich := uuid.New()

	d.balRepo.EXPECT().TopBalances(gomock.Any(), "coin", 10, 0).Return([]domain.UserBalance{
		{UserID: rich, Balances: map[string]float64{"coin": 9000}},
	}, nil)

	top, err := d.svc.TopBalances(context.Background(), "coin", 10, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, rich, top[0].UserID)
}

// ==================== RunAtomic ====================

func TestLedgerService_RunAtomic_WrapsFailure(t *testing.T) {
	d := setupLedgerService(t)
	boom := errors.New("boom")

	d.transactor.EXPECT().WithinTx(gomock.Any(), gomock.Any()).Return(boom)

	err := d.svc.RunAtomic(context.Background(), func(ctx context.Context, tx pgx.Tx) error { return nil })
	assertAppCode(t, err, "SYS_001")
	assert.ErrorIs(t, err, boom)
}

func TestLedgerService_RunAtomic_PassesAppErrorsThrough(t *testing.T) {
	d := setupLedgerService(t)

	d.transactor.EXPECT().WithinTx(gomock.Any(), gomock.Any()).Return(apperror.ErrInsufficientFunds())

	err := d.svc.RunAtomic(context.Background(), func(ctx context.Context, tx pgx.Tx) error { return nil })
	assertAppCode(t, err, "LED_002")
}
