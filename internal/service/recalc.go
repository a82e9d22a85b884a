package service

import (
	"context"
	"time"

	"currency-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cascadeTimeout = 30 * time.Second

// Recalculate replays a user's active transaction log for one currency from
// the currency's default balance and corrects the materialized balance when
// the fold disagrees with it. Withdrawals that would overdraw a currency that
// disallows negatives are invalidated in-fold: moved to the deleted set and
// skipped. Every linked transaction encountered in the fold schedules a
// deferred recalculation of its siblings' users, whether or not it was
// invalidated. Returns the user ids touched this pass: the subject first,
// then every sibling user whose recalculation was scheduled.
//
// The cooldown suppresses re-entry: a user already recalculated inside the
// window is skipped with a nil set and no error, which is what terminates
// cascades over linked groups.
func (s *LedgerServiceImpl) Recalculate(ctx context.Context, userID uuid.UUID, currency string) ([]uuid.UUID, error) {
	cur, err := s.registry.Lookup(currency)
	if err != nil {
		return nil, err
	}

	acquired, err := s.cooldown.TryAcquire(ctx, userID)
	if err != nil {
		return nil, asAppError(err)
	}
	if !acquired {
		s.log.Debug().
			Str("user_id", userID.String()).
			Str("currency", cur.Name).
			Msg("recalculation suppressed by cooldown")
		return nil, nil
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	var invalidated int
	var linkers []uuid.UUID
	var final float64

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invalidated = 0
		linkers = linkers[:0]
		seenLinkers := make(map[uuid.UUID]struct{})

		stored, found, err := s.balRepo.GetForUpdate(ctx, tx, userID, cur.Name)
		if err != nil {
			return err
		}

		log, err := s.txRepo.ListByUserCurrency(ctx, userID, cur.Name)
		if err != nil {
			return err
		}

		balance := cur.DefaultBalance
		for _, t := range log {
			if t.Linked() {
				if _, ok := seenLinkers[t.Linker.ID]; !ok {
					seenLinkers[t.Linker.ID] = struct{}{}
					linkers = append(linkers, t.Linker.ID)
				}
			}
			if t.Type == domain.TransactionTypeWithdrawal &&
				!cur.AllowsNegatives && balance-t.Amount < 0 {
				// The log no longer supports this withdrawal. Drop it and
				// its linked siblings rather than fold a negative balance.
				if err := s.moveGroupToDeleted(ctx, tx, t); err != nil {
					return err
				}
				invalidated++
				continue
			}
			balance = t.Apply(balance)
		}

		final = balance
		if !found || stored != final {
			return s.balRepo.SetBalance(ctx, tx, userID, cur.Name, final)
		}
		return nil
	})
	if err != nil {
		// Give the window back so the caller can retry the failed pass.
		if relErr := s.cooldown.Release(ctx, userID); relErr != nil {
			s.log.Warn().Err(relErr).
				Str("user_id", userID.String()).
				Msg("cooldown release failed")
		}
		return nil, asAppError(err)
	}

	s.cache.Set(userID, cur.Name, final)

	touched := s.cascadeLinked(ctx, userID, linkers)

	s.log.Info().
		Str("user_id", userID.String()).
		Str("currency", cur.Name).
		Float64("balance", final).
		Int("invalidated", invalidated).
		Int("touched", len(touched)).
		Msg("balance recalculated")

	return touched, nil
}

// moveGroupToDeleted moves an overdrawing transaction and every active member
// of its linked group into the deleted set within the current session.
func (s *LedgerServiceImpl) moveGroupToDeleted(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	if !t.Linked() {
		return s.txRepo.MoveToDeleted(ctx, tx, t.ID)
	}

	group, err := s.txRepo.ListByLinker(ctx, t.Linker.ID, false)
	if err != nil {
		return err
	}
	for _, g := range group {
		if err := s.txRepo.MoveToDeleted(ctx, tx, g.ID); err != nil {
			return err
		}
	}
	return nil
}

// cascadeLinked schedules a deferred recalculation for every other user
// holding a transaction in one of the given linked groups and returns the
// set of users touched this pass, the subject first. A group may sit in
// either set by now (in-fold invalidation moves whole groups), so both are
// consulted. Sibling lookup failures are logged and skipped; the next
// explicit pass over that user covers them.
func (s *LedgerServiceImpl) cascadeLinked(ctx context.Context, origin uuid.UUID, linkers []uuid.UUID) []uuid.UUID {
	touched := []uuid.UUID{origin}
	seenUsers := map[uuid.UUID]struct{}{origin: {}}

	type pair struct {
		user     uuid.UUID
		currency string
	}
	seenPairs := make(map[pair]struct{})

	for _, linkerID := range linkers {
		for _, deleted := range []bool{false, true} {
			siblings, err := s.txRepo.ListByLinker(ctx, linkerID, deleted)
			if err != nil {
				s.log.Warn().Err(err).
					Str("linker_id", linkerID.String()).
					Msg("cascade sibling lookup failed")
				continue
			}
			for _, sib := range siblings {
				if sib.UserID == origin {
					continue
				}
				p := pair{sib.UserID, sib.Currency}
				if _, ok := seenPairs[p]; ok {
					continue
				}
				seenPairs[p] = struct{}{}
				s.scheduleCascade(p.user, p.currency)
				if _, ok := seenUsers[sib.UserID]; !ok {
					seenUsers[sib.UserID] = struct{}{}
					touched = append(touched, sib.UserID)
				}
			}
		}
	}
	return touched
}

// scheduleCascade recalculates one sibling's balance after the configured
// delay. The delay batches corrections when several of a user's transactions
// reach the same sibling in one pass; the cooldown keeps the cascade from
// bouncing back.
func (s *LedgerServiceImpl) scheduleCascade(userID uuid.UUID, currency string) {
	time.AfterFunc(s.cascadeDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cascadeTimeout)
		defer cancel()

		if _, err := s.Recalculate(ctx, userID, currency); err != nil {
			s.log.Warn().Err(err).
				Str("user_id", userID.String()).
				Str("currency", currency).
				Msg("cascade recalculation failed")
		}
	})
}
