package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType determines the effect of a transaction's amount on a balance.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeOverride   TransactionType = "OVERRIDE"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeOverride:
		return true
	}
	return false
}

// Linker groups transactions belonging to one logical multi-user event,
// such as the debit and credit legs of a payment. The id and reason are
// always paired: a transaction either carries both or neither.
type Linker struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// Transaction is one immutable entry of the ledger. The Deleted flag is the
// only state that changes over its lifetime, and that change is modeled as a
// move between the active and deleted record sets rather than an edit.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Currency  string          `json:"currency"`
	Amount    float64         `json:"amount"` // always >= 0; sign comes from Type
	Type      TransactionType `json:"type"`
	UserID    uuid.UUID       `json:"user_id"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
	Linker    *Linker         `json:"linker,omitempty"`
	Deleted   bool            `json:"deleted"`
}

// NewTransaction builds a transaction record for the given user and currency.
// The caller is responsible for validating the amount against the type.
func NewTransaction(currency string, amount float64, txType TransactionType, userID uuid.UUID, reason string, linker *Linker) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		Currency:  currency,
		Amount:    amount,
		Type:      txType,
		UserID:    userID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
		Linker:    linker,
		Deleted:   false,
	}
}

// Apply folds the transaction into a running balance.
func (t *Transaction) Apply(balance float64) float64 {
	switch t.Type {
	case TransactionTypeDeposit:
		return balance + t.Amount
	case TransactionTypeWithdrawal:
		return balance - t.Amount
	case TransactionTypeOverride:
		return t.Amount
	}
	return balance
}

// Linked reports whether the transaction is part of a linked group.
func (t *Transaction) Linked() bool {
	return t.Linker != nil
}
