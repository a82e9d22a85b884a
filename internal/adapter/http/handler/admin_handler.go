package handler

import (
	"currency-ledger/internal/adapter/http/dto"
	"currency-ledger/internal/core/ports"
	"currency-ledger/pkg/apperror"
	"currency-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler handles privileged ledger mutations: deposits, withdrawals,
// overrides, soft-delete and restore, and recalculation.
type AdminHandler struct {
	ledgerSvc ports.LedgerService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ledgerSvc ports.LedgerService) *AdminHandler {
	return &AdminHandler{ledgerSvc: ledgerSvc}
}

// Deposit handles POST /api/v1/ledger/deposit.
func (h *AdminHandler) Deposit(c *gin.Context) {
	var req dto.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidArgument(err.Error()))
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	txn, err := h.ledgerSvc.Deposit(c.Request.Context(), userID, req.Currency, req.Amount, req.Reason, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.FromTransaction(txn))
}

// Withdraw handles POST /api/v1/ledger/withdraw.
func (h *AdminHandler) Withdraw(c *gin.Context) {
	var req dto.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidArgument(err.Error()))
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	txn, err := h.ledgerSvc.Withdraw(c.Request.Context(), userID, req.Currency, req.Amount, req.Reason, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.FromTransaction(txn))
}

// Set handles POST /api/v1/ledger/set.
func (h *AdminHandler) Set(c *gin.Context) {
	var req dto.SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidArgument(err.Error()))
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	txn, err := h.ledgerSvc.Set(c.Request.Context(), userID, req.Currency, *req.Amount, req.Reason, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.FromTransaction(txn))
}

// Invalidate handles POST /api/v1/ledger/transactions/:id/invalidate.
func (h *AdminHandler) Invalidate(c *gin.Context) {
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid transaction id"))
		return
	}

	if err := h.ledgerSvc.Invalidate(c.Request.Context(), txID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": txID.String(), "deleted": true})
}

// Validate handles POST /api/v1/ledger/transactions/:id/validate.
func (h *AdminHandler) Validate(c *gin.Context) {
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid transaction id"))
		return
	}

	if err := h.ledgerSvc.Validate(c.Request.Context(), txID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": txID.String(), "deleted": false})
}

// Recalculate handles POST /api/v1/ledger/recalculate/:user/:currency.
func (h *AdminHandler) Recalculate(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid user id"))
		return
	}

	touched, err := h.ledgerSvc.Recalculate(c.Request.Context(), userID, c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}

	users := make([]string, 0, len(touched))
	for _, id := range touched {
		users = append(users, id.String())
	}
	response.OK(c, dto.RecalculateResponse{
		Touched:    users,
		Suppressed: touched == nil,
	})
}
