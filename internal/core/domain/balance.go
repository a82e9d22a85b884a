package domain

import "github.com/google/uuid"

// UserBalance is the materialized per-user balance record. It is derived
// state: the transaction log is the source of truth and this record exists
// only for fast reads. Created lazily on first balance query.
type UserBalance struct {
	UserID   uuid.UUID          `json:"user_id"`
	Balances map[string]float64 `json:"balances"` // currency name -> balance
}

// NewUserBalance creates an empty balance record for a user.
func NewUserBalance(userID uuid.UUID) *UserBalance {
	return &UserBalance{
		UserID:   userID,
		Balances: make(map[string]float64),
	}
}

// Balance returns the balance for a currency, zero if the user never held it.
func (u *UserBalance) Balance(currency string) float64 {
	return u.Balances[currency]
}
