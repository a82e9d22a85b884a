package handler

import (
	"strconv"

	"currency-ledger/internal/adapter/http/dto"
	"currency-ledger/internal/core/ports"
	"currency-ledger/pkg/apperror"
	"currency-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LedgerHandler handles balance and transaction query endpoints plus
// user-to-user payments. All ledger logic lives in the service; handlers
// only translate.
type LedgerHandler struct {
	ledgerSvc ports.LedgerService
	registry  ports.CurrencyRegistry
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerSvc ports.LedgerService, registry ports.CurrencyRegistry) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc, registry: registry}
}

// GetBalance handles GET /api/v1/balances/:user/:currency.
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid user id"))
		return
	}
	currency := c.Param("currency")

	balance, err := h.ledgerSvc.Balance(c.Request.Context(), userID, currency)
	if err != nil {
		response.Error(c, err)
		return
	}

	cur, err := h.registry.Lookup(currency)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		UserID:    userID.String(),
		Currency:  cur.Name,
		Balance:   balance,
		Formatted: cur.FormatAmount(balance),
	})
}

// GetTopBalances handles GET /api/v1/balances/top/:currency.
func (h *LedgerHandler) GetTopBalances(c *gin.Context) {
	limit, skip := pagingQuery(c)

	top, err := h.ledgerSvc.TopBalances(c.Request.Context(), c.Param("currency"), limit, skip)
	if err != nil {
		response.Error(c, err)
		return
	}

	currency := c.Param("currency")
	entries := make([]dto.TopBalanceEntry, 0, len(top))
	for _, ub := range top {
		entries = append(entries, dto.TopBalanceEntry{
			UserID:  ub.UserID.String(),
			Balance: ub.Balances[currency],
		})
	}
	response.OK(c, entries)
}

// Pay handles POST /api/v1/ledger/pay.
func (h *LedgerHandler) Pay(c *gin.Context) {
	var req dto.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidArgument(err.Error()))
		return
	}

	fromID, _ := uuid.Parse(req.From)
	toID, _ := uuid.Parse(req.To)

	result, err := h.ledgerSvc.Pay(c.Request.Context(), fromID, toID, req.Currency, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.PayResponse{
		Withdrawal: dto.FromTransaction(result.Withdrawal),
		Deposit:    dto.FromTransaction(result.Deposit),
	})
}

// GetHistory handles GET /api/v1/ledger/history/:user/:currency.
func (h *LedgerHandler) GetHistory(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid user id"))
		return
	}

	list, err := h.ledgerSvc.History(c.Request.Context(), userID, c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromTransactions(list))
}

// GetTransactions handles GET /api/v1/ledger/transactions/:user.
// ?deleted=true pages the soft-deleted set instead of the active one.
func (h *LedgerHandler) GetTransactions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid user id"))
		return
	}
	deleted := c.Query("deleted") == "true"
	limit, skip := pagingQuery(c)

	ctx := c.Request.Context()
	list, err := h.ledgerSvc.Transactions(ctx, userID, deleted, limit, skip)
	if err != nil {
		response.Error(c, err)
		return
	}
	total, err := h.ledgerSvc.TransactionCount(ctx, userID, deleted)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.TransactionListResponse{
		Transactions: dto.FromTransactions(list),
		Total:        total,
	})
}

// GetLinked handles GET /api/v1/ledger/linked/:linker.
func (h *LedgerHandler) GetLinked(c *gin.Context) {
	linkerID, err := uuid.Parse(c.Param("linker"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidArgument("invalid linker id"))
		return
	}

	list, err := h.ledgerSvc.Linked(c.Request.Context(), linkerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromTransactions(list))
}

func pagingQuery(c *gin.Context) (limit, skip int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	skip, _ = strconv.Atoi(c.DefaultQuery("skip", "0"))
	return limit, skip
}
