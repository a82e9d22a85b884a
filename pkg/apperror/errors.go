package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Ledger Business Logic (LED) ----

func ErrInvalidArgument(message string) *AppError {
	return New("LED_001", message, http.StatusBadRequest)
}

func ErrInsufficientFunds() *AppError {
	return New("LED_002", "Cannot withdraw more than the balance", http.StatusPaymentRequired)
}

func ErrTransactionNotFound() *AppError {
	return New("LED_003", "Transaction not found", http.StatusNotFound)
}

func ErrAlreadyDeleted() *AppError {
	return New("LED_004", "Transaction already deleted", http.StatusConflict)
}

func ErrNotDeleted() *AppError {
	return New("LED_005", "Transaction is not deleted", http.StatusConflict)
}

func ErrPayNotAllowed() *AppError {
	return New("LED_006", "This currency does not support payments between users", http.StatusForbidden)
}

func ErrSelfPayment() *AppError {
	return New("LED_007", "Cannot pay yourself", http.StatusBadRequest)
}

// ---- Currency Registry (CUR) ----

func ErrCurrencyNotFound(name string) *AppError {
	return New("CUR_001", fmt.Sprintf("Unknown currency %q", name), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInvalidAdminKey() *AppError {
	return New("AUTH_002", "Invalid admin key", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// ErrTransactionAborted wraps a failed atomic session. The underlying cause
// stays attached for the caller; nothing was persisted.
func ErrTransactionAborted(err error) *AppError {
	return Wrap("SYS_001", "Atomic transaction aborted", http.StatusInternalServerError, err)
}

// InternalError wraps an unexpected internal error.
func InternalError(err error) *AppError {
	return Wrap("SYS_002", "Internal server error", http.StatusInternalServerError, err)
}
