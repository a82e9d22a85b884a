package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"currency-ledger/internal/core/domain"
	"currency-ledger/internal/core/ports"
	"currency-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// userLocks serializes ledger mutations per user. The database row lock alone
// is not enough: the sufficiency check and the insert must see the same
// balance, so the whole read-check-write sequence holds the user's mutex.
type userLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *userLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// lock acquires the user's mutex and returns the unlock func.
func (l *userLocks) lock(id uuid.UUID) func() {
	m := l.get(id)
	m.Lock()
	return m.Unlock
}

// lockPair acquires both users' mutexes in a stable order so two concurrent
// payments between the same pair cannot deadlock.
func (l *userLocks) lockPair(a, b uuid.UUID) func() {
	first, second := a, b
	if second.String() < first.String() {
		first, second = second, first
	}
	fm, sm := l.get(first), l.get(second)
	fm.Lock()
	sm.Lock()
	return func() {
		sm.Unlock()
		fm.Unlock()
	}
}

// LedgerServiceImpl implements ports.LedgerService. Balances are derived
// state: the transaction log is authoritative and the user_balances rows are
// a materialization kept in step inside the same atomic session.
type LedgerServiceImpl struct {
	txRepo       ports.TransactionRepository
	balRepo      ports.BalanceRepository
	transactor   ports.DBTransactor
	registry     ports.CurrencyRegistry
	cache        ports.BalanceCache
	cooldown     ports.RecalcCooldown
	cascadeDelay time.Duration
	locks        *userLocks
	log          zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	txRepo ports.TransactionRepository,
	balRepo ports.BalanceRepository,
	transactor ports.DBTransactor,
	registry ports.CurrencyRegistry,
	cache ports.BalanceCache,
	cooldown ports.RecalcCooldown,
	cascadeDelay time.Duration,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		txRepo:       txRepo,
		balRepo:      balRepo,
		transactor:   transactor,
		registry:     registry,
		cache:        cache,
		cooldown:     cooldown,
		cascadeDelay: cascadeDelay,
		locks:        newUserLocks(),
		log:          log,
	}
}

// Deposit appends a DEPOSIT record and credits the balance.
func (s *LedgerServiceImpl) Deposit(ctx context.Context, userID uuid.UUID, currency string, amount float64, reason string, linker *domain.Linker) (*domain.Transaction, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}
	if err := validateMutation(amount, reason); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	txn := domain.NewTransaction(cur.Name, amount, domain.TransactionTypeDeposit, userID, reason, linker)

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.lockedBalance(ctx, tx, userID, cur); err != nil {
			return err
		}
		if err := s.txRepo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return s.balRepo.ApplyDelta(ctx, tx, userID, cur.Name, amount)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.cache.ApplyDelta(userID, cur.Name, amount)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", cur.Name).
		Float64("amount", amount).
		Msg("deposit recorded")

	return txn, nil
}

// Withdraw appends a WITHDRAWAL record and debits the balance. Overdrawing is
// rejected unless the currency allows negative balances.
func (s *LedgerServiceImpl) Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount float64, reason string, linker *domain.Linker) (*domain.Transaction, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}
	if err := validateMutation(amount, reason); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	txn := domain.NewTransaction(cur.Name, amount, domain.TransactionTypeWithdrawal, userID, reason, linker)

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		balance, err := s.lockedBalance(ctx, tx, userID, cur)
		if err != nil {
			return err
		}
		if !cur.AllowsNegatives && balance-amount < 0 {
			return apperror.ErrInsufficientFunds()
		}
		if err := s.txRepo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return s.balRepo.ApplyDelta(ctx, tx, userID, cur.Name, -amount)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.cache.ApplyDelta(userID, cur.Name, -amount)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", cur.Name).
		Float64("amount", amount).
		Msg("withdrawal recorded")

	return txn, nil
}

// Set appends an OVERRIDE record and overwrites the balance with the amount.
func (s *LedgerServiceImpl) Set(ctx context.Context, userID uuid.UUID, currency string, amount float64, reason string, linker *domain.Linker) (*domain.Transaction, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperror.ErrInvalidArgument("reason is required")
	}
	// Record amounts are non-negative regardless of the currency's
	// negative-balance policy; only folds may drive a balance below zero.
	if amount < 0 {
		return nil, apperror.ErrInvalidArgument("amount must not be negative")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	txn := domain.NewTransaction(cur.Name, amount, domain.TransactionTypeOverride, userID, reason, linker)

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.lockedBalance(ctx, tx, userID, cur); err != nil {
			return err
		}
		if err := s.txRepo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return s.balRepo.SetBalance(ctx, tx, userID, cur.Name, amount)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.cache.Set(userID, cur.Name, amount)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", cur.Name).
		Float64("amount", amount).
		Msg("balance override recorded")

	return txn, nil
}

// Pay moves funds between two users as one atomic session: a withdrawal from
// the payer and a deposit to the payee sharing one linker. Either both legs
// commit or neither does.
func (s *LedgerServiceImpl) Pay(ctx context.Context, fromID, toID uuid.UUID, currency string, amount float64) (*ports.PayResult, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}
	if !cur.AllowsPay {
		return nil, apperror.ErrPayNotAllowed()
	}
	if fromID == toID {
		return nil, apperror.ErrSelfPayment()
	}
	if amount <= 0 {
		return nil, apperror.ErrInvalidArgument("amount must be positive")
	}

	unlock := s.locks.lockPair(fromID, toID)
	defer unlock()

	linker := &domain.Linker{
		ID:     uuid.New(),
		Reason: fmt.Sprintf("payment of %g %s from %s to %s", amount, cur.Name, fromID, toID),
	}
	withdrawal := domain.NewTransaction(cur.Name, amount, domain.TransactionTypeWithdrawal, fromID,
		fmt.Sprintf("payment to %s", toID), linker)
	deposit := domain.NewTransaction(cur.Name, amount, domain.TransactionTypeDeposit, toID,
		fmt.Sprintf("payment from %s", fromID), linker)

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		fromBalance, err := s.lockedBalance(ctx, tx, fromID, cur)
		if err != nil {
			return err
		}
		if !cur.AllowsNegatives && fromBalance-amount < 0 {
			return apperror.ErrInsufficientFunds()
		}
		if _, err := s.lockedBalance(ctx, tx, toID, cur); err != nil {
			return err
		}
		if err := s.txRepo.Insert(ctx, tx, withdrawal); err != nil {
			return err
		}
		if err := s.txRepo.Insert(ctx, tx, deposit); err != nil {
			return err
		}
		if err := s.balRepo.ApplyDelta(ctx, tx, fromID, cur.Name, -amount); err != nil {
			return err
		}
		return s.balRepo.ApplyDelta(ctx, tx, toID, cur.Name, amount)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.cache.ApplyDelta(fromID, cur.Name, -amount)
	s.cache.ApplyDelta(toID, cur.Name, amount)

	s.log.Info().
		Str("linker_id", linker.ID.String()).
		Str("from", fromID.String()).
		Str("to", toID.String()).
		Str("currency", cur.Name).
		Float64("amount", amount).
		Msg("payment completed")

	return &ports.PayResult{Withdrawal: withdrawal, Deposit: deposit}, nil
}

// Balance returns a user's balance for one currency, serving from the cache
// when the user has a live entry. A user never seen before is created lazily
// with every currency's default balance.
func (s *LedgerServiceImpl) Balance(ctx context.Context, userID uuid.UUID, currency string) (float64, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return 0, err
	}

	if balance, ok := s.cache.Balance(userID, cur.Name); ok {
		return balance, nil
	}

	ub, err := s.balRepo.Get(ctx, userID)
	if err != nil {
		return 0, apperror.InternalError(err)
	}
	if ub == nil {
		ub = s.defaultBalances(userID)
		err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return s.balRepo.Create(ctx, tx, ub)
		})
		if err != nil {
			return 0, apperror.InternalError(err)
		}
		s.log.Debug().Str("user_id", userID.String()).Msg("user created with default balances")
	}

	s.cache.Put(userID, ub.Balances)

	if balance, ok := ub.Balances[cur.Name]; ok {
		return balance, nil
	}
	return cur.DefaultBalance, nil
}

// History returns a user's active transactions for one currency, oldest first.
func (s *LedgerServiceImpl) History(ctx context.Context, userID uuid.UUID, currency string) ([]domain.Transaction, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}
	list, err := s.txRepo.ListByUserCurrency(ctx, userID, cur.Name)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return list, nil
}

// Transactions pages a user's records, newest first, from the active or
// deleted set.
func (s *LedgerServiceImpl) Transactions(ctx context.Context, userID uuid.UUID, deleted bool, limit, skip int) ([]domain.Transaction, error) {
	limit, skip = clampPage(limit, skip)
	list, err := s.txRepo.ListByUser(ctx, userID, deleted, limit, skip)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return list, nil
}

// TransactionCount counts a user's records in the active or deleted set.
func (s *LedgerServiceImpl) TransactionCount(ctx context.Context, userID uuid.UUID, deleted bool) (int64, error) {
	count, err := s.txRepo.CountByUser(ctx, userID, deleted)
	if err != nil {
		return 0, apperror.InternalError(err)
	}
	return count, nil
}

// Linked returns every transaction of a linked group, active and deleted.
func (s *LedgerServiceImpl) Linked(ctx context.Context, linkerID uuid.UUID) ([]domain.Transaction, error) {
	active, err := s.txRepo.ListByLinker(ctx, linkerID, false)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	deleted, err := s.txRepo.ListByLinker(ctx, linkerID, true)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return append(active, deleted...), nil
}

// TopBalances returns the richest holders of a currency, descending.
func (s *LedgerServiceImpl) TopBalances(ctx context.Context, currency string, limit, skip int) ([]domain.UserBalance, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}
	limit, skip = clampPage(limit, skip)
	top, err := s.balRepo.TopBalances(ctx, cur.Name, limit, skip)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return top, nil
}

// Invalidate soft-deletes a transaction, moving it and every active member of
// its linked group into the deleted set. Balances are not recomputed here;
// callers needing the stored balance to reflect the removal trigger
// Recalculate for the affected users.
func (s *LedgerServiceImpl) Invalidate(ctx context.Context, txID uuid.UUID) error {
	txn, err := s.txRepo.GetActive(ctx, txID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if txn == nil {
		deleted, err := s.txRepo.GetDeleted(ctx, txID)
		if err != nil {
			return apperror.InternalError(err)
		}
		if deleted != nil {
			return apperror.ErrAlreadyDeleted()
		}
		return apperror.ErrTransactionNotFound()
	}

	group := []domain.Transaction{*txn}
	if txn.Linked() {
		group, err = s.txRepo.ListByLinker(ctx, txn.Linker.ID, false)
		if err != nil {
			return apperror.InternalError(err)
		}
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, g := range group {
			if err := s.txRepo.MoveToDeleted(ctx, tx, g.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return asAppError(err)
	}

	s.log.Info().
		Str("tx_id", txID.String()).
		Int("group_size", len(group)).
		Msg("transaction invalidated")

	return nil
}

// Validate restores a soft-deleted transaction, moving it and every deleted
// member of its linked group back to the active set. Like Invalidate, it
// leaves balance recomputation to an explicit Recalculate call.
func (s *LedgerServiceImpl) Validate(ctx context.Context, txID uuid.UUID) error {
	txn, err := s.txRepo.GetDeleted(ctx, txID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if txn == nil {
		active, err := s.txRepo.GetActive(ctx, txID)
		if err != nil {
			return apperror.InternalError(err)
		}
		if active != nil {
			return apperror.ErrNotDeleted()
		}
		return apperror.ErrTransactionNotFound()
	}

	group := []domain.Transaction{*txn}
	if txn.Linked() {
		group, err = s.txRepo.ListByLinker(ctx, txn.Linker.ID, true)
		if err != nil {
			return apperror.InternalError(err)
		}
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, g := range group {
			if err := s.txRepo.MoveToActive(ctx, tx, g.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return asAppError(err)
	}

	s.log.Info().
		Str("tx_id", txID.String()).
		Int("group_size", len(group)).
		Msg("transaction restored")

	return nil
}

// RunAtomic exposes the atomic session to callers composing several ledger
// operations. A failure anywhere rolls the whole session back.
func (s *LedgerServiceImpl) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if err := s.transactor.WithinTx(ctx, fn); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.ErrTransactionAborted(err)
	}
	return nil
}

// lockedBalance reads the user's balance for one currency under a row lock,
// creating the user's default rows on first contact.
func (s *LedgerServiceImpl) lockedBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, cur domain.Currency) (float64, error) {
	balance, found, err := s.balRepo.GetForUpdate(ctx, tx, userID, cur.Name)
	if err != nil {
		return 0, err
	}
	if found {
		return balance, nil
	}

	if err := s.balRepo.Create(ctx, tx, s.defaultBalances(userID)); err != nil {
		return 0, err
	}
	return cur.DefaultBalance, nil
}

// defaultBalances builds a new user's starting balance map from the registry.
func (s *LedgerServiceImpl) defaultBalances(userID uuid.UUID) *domain.UserBalance {
	ub := domain.NewUserBalance(userID)
	for _, cur := range s.registry.All() {
		ub.Balances[cur.Name] = cur.DefaultBalance
	}
	return ub
}

func validateMutation(amount float64, reason string) error {
	if amount <= 0 {
		return apperror.ErrInvalidArgument("amount must be positive")
	}
	if reason == "" {
		return apperror.ErrInvalidArgument("reason is required")
	}
	return nil
}

func clampPage(limit, skip int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}

// asAppError passes AppErrors through and wraps everything else as internal.
func asAppError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.InternalError(err)
}
