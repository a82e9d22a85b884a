package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"currency-ledger/internal/adapter/http/dto"
	"currency-ledger/internal/core/domain"
	"currency-ledger/internal/core/ports"
	"currency-ledger/internal/core/ports/mocks"
	"currency-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func jsonRequest(t *testing.T, method string, body any) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, "/", reader)
	c.Request.Header.Set("Content-Type", "application/json")
	return w, c
}

func responseData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func coinCurrency() domain.Currency {
	return domain.Currency{
		Name:           "coin",
		Plural:         "coins",
		Symbol:         "$",
		AllowsPay:      true,
		DefaultBalance: 100,
	}
}

// --- Auth Handler Tests ---

func TestToken_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockToken := mocks.NewMockTokenService(ctrl)
	h := NewAuthHandler(mockToken, "super-secret")

	expiry := time.Now().Add(time.Hour).Unix()
	mockToken.EXPECT().Generate("admin").Return("jwt-token-123", expiry, nil)

	w, c := jsonRequest(t, http.MethodPost, dto.TokenRequest{AdminKey: "super-secret"})

	h.Token(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "jwt-token-123", data["token"])
	assert.Equal(t, float64(expiry), data["expiry"])
}

func TestToken_WrongKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockToken := mocks.NewMockTokenService(ctrl)
	h := NewAuthHandler(mockToken, "super-secret")

	w, c := jsonRequest(t, http.MethodPost, dto.TokenRequest{AdminKey: "guess"})

	h.Token(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_002")
}

func TestToken_EmptyConfiguredKeyRejectsAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockToken := mocks.NewMockTokenService(ctrl)
	h := NewAuthHandler(mockToken, "")

	w, c := jsonRequest(t, http.MethodPost, dto.TokenRequest{AdminKey: ""})

	h.Token(c)

	// Binding rejects the empty key before the comparison runs.
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, c = jsonRequest(t, http.MethodPost, dto.TokenRequest{AdminKey: "anything"})
	h.Token(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Ledger Handler Tests ---

func TestGetBalance_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	mockRegistry := mocks.NewMockCurrencyRegistry(ctrl)
	h := NewLedgerHandler(mockLedger, mockRegistry)

	userID := uuid.New()
	mockLedger.EXPECT().Balance(gomock.Any(), userID, "coin").Return(float64(170), nil)
	mockRegistry.EXPECT().Lookup("coin").Return(coinCurrency(), nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "user", Value: userID.String()}, {Key: "currency", Value: "coin"}}

	h.GetBalance(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(170), data["balance"])
	assert.Equal(t, "$170", data["formatted"])
}

func TestGetBalance_BadUserID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewLedgerHandler(mocks.NewMockLedgerService(ctrl), mocks.NewMockCurrencyRegistry(ctrl))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "user", Value: "not-a-uuid"}, {Key: "currency", Value: "coin"}}

	h.GetBalance(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBalance_UnknownCurrency(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewLedgerHandler(mockLedger, mocks.NewMockCurrencyRegistry(ctrl))

	userID := uuid.New()
	mockLedger.EXPECT().Balance(gomock.Any(), userID, "shells").
		Return(float64(0), apperror.ErrCurrencyNotFound("shells"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "user", Value: userID.String()}, {Key: "currency", Value: "shells"}}

	h.GetBalance(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "CUR_001")
}

func TestGetTopBalances_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewLedgerHandler(mockLedger, mocks.NewMockCurrencyRegistry(ctrl))

	rich := uuid.New()
	mockLedger.EXPECT().TopBalances(gomock.Any(), "coin", 10, 0).Return([]domain.UserBalance{
		{UserID: rich, Balances: map[string]float64{"coin": 900}},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=10", nil)
	c.Params = gin.Params{{Key: "currency", Value: "coin"}}

	h.GetTopBalances(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	items := resp["data"].([]interface{})
	require.Len(t, items, 1)
	entry := items[0].(map[string]interface{})
	assert.Equal(t, rich.String(), entry["user_id"])
	assert.Equal(t, float64(900), entry["balance"])
}

func TestPay_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewLedgerHandler(mockLedger, mocks.NewMockCurrencyRegistry(ctrl))

	fromID := uuid.New()
	toID := uuid.New()
	linker := &domain.Linker{ID: uuid.New(), Reason: "payment"}

	mockLedger.EXPECT().Pay(gomock.Any(), fromID, toID, "coin", float64(25)).Return(&ports.PayResult{
		Withdrawal: &domain.Transaction{
			ID: uuid.New(), Currency: "coin", Amount: 25,
			Type: domain.TransactionTypeWithdrawal, UserID: fromID,
			Timestamp: time.Now(), Linker: linker,
		},
		Deposit: &domain.Transaction{
			ID: uuid.New(), Currency: "coin", Amount: 25,
			Type: domain.TransactionTypeDeposit, UserID: toID,
			Timestamp: time.Now(), Linker: linker,
		},
	}, nil)

	w, c := jsonRequest(t, http.MethodPost, dto.PayRequest{
		From:     fromID.String(),
		To:       toID.String(),
		Currency: "coin",
		Amount:   25,
	})

	h.Pay(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	withdrawal := data["withdrawal"].(map[string]interface{})
	deposit := data["deposit"].(map[string]interface{})
	assert.Equal(t, "WITHDRAWAL", withdrawal["type"])
	assert.Equal(t, "DEPOSIT", deposit["type"])
	assert.Equal(t, withdrawal["linker"].(map[string]interface{})["id"],
		deposit["linker"].(map[string]interface{})["id"])
}

func TestPay_SelfPayment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewLedgerHandler(mockLedger, mocks.NewMockCurrencyRegistry(ctrl))

	userID := uuid.New()
	mockLedger.EXPECT().Pay(gomock.Any(), userID, userID, "coin", float64(5)).
		Return(nil, apperror.ErrSelfPayment())

	w, c := jsonRequest(t, http.MethodPost, dto.PayRequest{
		From:     userID.String(),
		To:       userID.String(),
		Currency: "coin",
		Amount:   5,
	})

	h.Pay(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "LED_007")
}

func TestPay_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewLedgerHandler(mocks.NewMockLedgerService(ctrl), mocks.NewMockCurrencyRegistry(ctrl))

	// Negative amount fails the gt=0 binding before the service is touched.
	w, c := jsonRequest(t, http.MethodPost, dto.PayRequest{
		From:     uuid.New().String(),
		To:       uuid.New().String(),
		Currency: "coin",
		Amount:   -5,
	})

	h.Pay(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransactions_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewLedgerHandler(mockLedger, mocks.NewMockCurrencyRegistry(ctrl))

	userID := uuid.New()
	mockLedger.EXPECT().Transactions(gomock.Any(), userID, true, 20, 40).Return([]domain.Transaction{
		{ID: uuid.New(), Currency: "coin", Amount: 10, Type: domain.TransactionTypeDeposit,
			UserID: userID, Reason: "quest", Timestamp: time.Now(), Deleted: true},
	}, nil)
	mockLedger.EXPECT().TransactionCount(gomock.Any(), userID, true).Return(int64(61), nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?deleted=true&limit=20&skip=40", nil)
	c.Params = gin.Params{{Key: "user", Value: userID.String()}}

	h.GetTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(61), data["total"])
	items := data["transactions"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, true, items[0].(map[string]interface{})["deleted"])
}

func TestGetLinked_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewLedgerHandler(mockLedger, mocks.NewMockCurrencyRegistry(ctrl))

	linkerID := uuid.New()
	mockLedger.EXPECT().Linked(gomock.Any(), linkerID).Return([]domain.Transaction{
		{ID: uuid.New(), Currency: "coin", Amount: 25, Type: domain.TransactionTypeWithdrawal,
			UserID: uuid.New(), Timestamp: time.Now(),
			Linker: &domain.Linker{ID: linkerID, Reason: "payment"}},
		{ID: uuid.New(), Currency: "coin", Amount: 25, Type: domain.TransactionTypeDeposit,
			UserID: uuid.New(), Timestamp: time.Now(),
			Linker: &domain.Linker{ID: linkerID, Reason: "payment"}},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "linker", Value: linkerID.String()}}

	h.GetLinked(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["data"].([]interface{}), 2)
}

// --- Admin Handler Tests ---

func TestDeposit_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	userID := uuid.New()
	txID := uuid.New()
	mockLedger.EXPECT().Deposit(gomock.Any(), userID, "coin", float64(50), "quest reward", nil).
		Return(&domain.Transaction{
			ID: txID, Currency: "coin", Amount: 50,
			Type: domain.TransactionTypeDeposit, UserID: userID,
			Reason: "quest reward", Timestamp: time.Now(),
		}, nil)

	w, c := jsonRequest(t, http.MethodPost, dto.MutationRequest{
		UserID:   userID.String(),
		Currency: "coin",
		Amount:   50,
		Reason:   "quest reward",
	})

	h.Deposit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, txID.String(), data["id"])
	assert.Equal(t, "DEPOSIT", data["type"])
}

func TestDeposit_MissingReason(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewAdminHandler(mocks.NewMockLedgerService(ctrl))

	w, c := jsonRequest(t, http.MethodPost, dto.MutationRequest{
		UserID:   uuid.New().String(),
		Currency: "coin",
		Amount:   50,
	})

	h.Deposit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	userID := uuid.New()
	mockLedger.EXPECT().Withdraw(gomock.Any(), userID, "coin", float64(9999), "purchase", nil).
		Return(nil, apperror.ErrInsufficientFunds())

	w, c := jsonRequest(t, http.MethodPost, dto.MutationRequest{
		UserID:   userID.String(),
		Currency: "coin",
		Amount:   9999,
		Reason:   "purchase",
	})

	h.Withdraw(c)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "LED_002")
}

func TestSet_ZeroAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	userID := uuid.New()
	mockLedger.EXPECT().Set(gomock.Any(), userID, "coin", float64(0), "reset", nil).
		Return(&domain.Transaction{
			ID: uuid.New(), Currency: "coin", Amount: 0,
			Type: domain.TransactionTypeOverride, UserID: userID,
			Reason: "reset", Timestamp: time.Now(),
		}, nil)

	zero := float64(0)
	w, c := jsonRequest(t, http.MethodPost, dto.SetRequest{
		UserID:   userID.String(),
		Currency: "coin",
		Amount:   &zero,
		Reason:   "reset",
	})

	h.Set(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "OVERRIDE", data["type"])
	assert.Equal(t, float64(0), data["amount"])
}

func TestInvalidate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	txID := uuid.New()
	mockLedger.EXPECT().Invalidate(gomock.Any(), txID).Return(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txID.String()}}

	h.Invalidate(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, true, data["deleted"])
}

func TestInvalidate_AlreadyDeleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	txID := uuid.New()
	mockLedger.EXPECT().Invalidate(gomock.Any(), txID).Return(apperror.ErrAlreadyDeleted())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txID.String()}}

	h.Invalidate(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "LED_004")
}

func TestValidate_NotDeleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	txID := uuid.New()
	mockLedger.EXPECT().Validate(gomock.Any(), txID).Return(apperror.ErrNotDeleted())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txID.String()}}

	h.Validate(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "LED_005")
}

func TestRecalculate_ReturnsTouchedUsers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	userID := uuid.New()
	sibling := uuid.New()
	mockLedger.EXPECT().Recalculate(gomock.Any(), userID, "coin").
		Return([]uuid.UUID{userID, sibling}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "user", Value: userID.String()}, {Key: "currency", Value: "coin"}}

	h.Recalculate(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, false, data["suppressed"])
	touched := data["touched"].([]interface{})
	require.Len(t, touched, 2)
	assert.Equal(t, userID.String(), touched[0])
	assert.Equal(t, sibling.String(), touched[1])
}

func TestRecalculate_Suppressed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAdminHandler(mockLedger)

	userID := uuid.New()
	mockLedger.EXPECT().Recalculate(gomock.Any(), userID, "coin").Return(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "user", Value: userID.String()}, {Key: "currency", Value: "coin"}}

	h.Recalculate(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, true, data["suppressed"])
}

// --- Health Check Tests ---

func TestHealthCheck_AllHealthy(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	checker := mocks.NewMockHealthChecker(ctrl)
	checker.EXPECT().Ping(gomock.Any()).Return(nil)
	checker.EXPECT().Name().Return("postgres")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(checker)(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	healthy := mocks.NewMockHealthChecker(ctrl)
	healthy.EXPECT().Ping(gomock.Any()).Return(nil)
	healthy.EXPECT().Name().Return("postgres")

	broken := mocks.NewMockHealthChecker(ctrl)
	broken.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))
	broken.EXPECT().Name().Return("redis")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(healthy, broken)(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Equal(t, "unhealthy", deps["redis"].(map[string]interface{})["status"])
}
