package dto

import "currency-ledger/internal/core/domain"

// TokenRequest is the request body for exchanging the admin key for a JWT.
type TokenRequest struct {
	AdminKey string `json:"admin_key" binding:"required"`
}

// TokenResponse is the response body for a successful token exchange.
type TokenResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// MutationRequest is the request body for deposits and withdrawals.
type MutationRequest struct {
	UserID   string  `json:"user_id" binding:"required,uuid"`
	Currency string  `json:"currency" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Reason   string  `json:"reason" binding:"required"`
}

// SetRequest is the request body for balance overrides. Zero is a valid
// override amount, so the field is a pointer rather than required-nonzero.
type SetRequest struct {
	UserID   string   `json:"user_id" binding:"required,uuid"`
	Currency string   `json:"currency" binding:"required"`
	Amount   *float64 `json:"amount" binding:"required"`
	Reason   string   `json:"reason" binding:"required"`
}

// PayRequest is the request body for a payment between two users.
type PayRequest struct {
	From     string  `json:"from" binding:"required,uuid"`
	To       string  `json:"to" binding:"required,uuid"`
	Currency string  `json:"currency" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
}

// LinkerResponse is the linked-group part of a transaction response.
type LinkerResponse struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// TransactionResponse is the response body for a single ledger record.
type TransactionResponse struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Amount    float64         `json:"amount"`
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Reason    string          `json:"reason"`
	Timestamp string          `json:"timestamp"`
	Linker    *LinkerResponse `json:"linker,omitempty"`
	Deleted   bool            `json:"deleted"`
}

// TransactionListResponse pages a user's records with the set's total.
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
}

// BalanceResponse is the response body for a balance query.
type BalanceResponse struct {
	UserID    string  `json:"user_id"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	Formatted string  `json:"formatted"`
}

// TopBalanceEntry is one row of a top-balances listing.
type TopBalanceEntry struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
}

// PayResponse carries both legs of a completed payment.
type PayResponse struct {
	Withdrawal TransactionResponse `json:"withdrawal"`
	Deposit    TransactionResponse `json:"deposit"`
}

// RecalculateResponse reports the outcome of a recalculation pass: the user
// ids the pass touched (subject plus cascaded siblings), or suppression by
// the cooldown window.
type RecalculateResponse struct {
	Touched    []string `json:"touched"`
	Suppressed bool     `json:"suppressed"`
}

// FromTransaction maps a domain transaction to its response shape.
func FromTransaction(t *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:        t.ID.String(),
		Currency:  t.Currency,
		Amount:    t.Amount,
		Type:      string(t.Type),
		UserID:    t.UserID.String(),
		Reason:    t.Reason,
		Timestamp: t.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Deleted:   t.Deleted,
	}
	if t.Linker != nil {
		resp.Linker = &LinkerResponse{
			ID:     t.Linker.ID.String(),
			Reason: t.Linker.Reason,
		}
	}
	return resp
}

// FromTransactions maps a slice of domain transactions.
func FromTransactions(list []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(list))
	for i := range list {
		out = append(out, FromTransaction(&list[i]))
	}
	return out
}
