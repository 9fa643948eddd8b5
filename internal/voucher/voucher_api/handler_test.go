package voucher_api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/apperr"
	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/voucher"
	"ms-orders/internal/voucher/voucher_api"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Validate(ctx context.Context, code string, amount int64, email string) (*voucher.Result, error) {
	args := m.Called(ctx, code, amount, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*voucher.Result), args.Error(1)
}

func (m *MockService) Create(ctx context.Context, in voucher.CreateInput) (*models.Voucher, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Voucher), args.Error(1)
}

func (m *MockService) Usages(ctx context.Context, code string) (*models.Voucher, []models.VoucherUsage, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Voucher), args.Get(1).([]models.VoucherUsage), args.Error(2)
}

func TestValidate_UsesSessionEmail(t *testing.T) {
	svc := new(MockService)
	svc.On("Validate", mock.Anything, "SAVE20", int64(5000), "buyer@example.com").
		Return(&voucher.Result{Valid: false, Code: "SAVE20", FinalAmount: 5000, Reason: voucher.ReasonUsageLimit}, nil)
	h := &voucher_api.Handler{Service: svc, Logger: logger.Discard()}

	req := httptest.NewRequest(http.MethodPost, "/api/vouchers/validate", strings.NewReader(`{"code":"SAVE20","amount":5000,"email":"other@example.com"}`))
	req = req.WithContext(auth.WithSession(req.Context(), &models.Session{UserID: "u1", Email: "buyer@example.com"}))
	rec := httptest.NewRecorder()
	h.Validate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Message string         `json:"message"`
		Data    voucher.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Usage limit exceeded", body.Message)
	assert.False(t, body.Data.Valid)
	svc.AssertExpectations(t)
}

func TestCreate_Conflict(t *testing.T) {
	svc := new(MockService)
	svc.On("Create", mock.Anything, mock.Anything).Return(nil, apperr.ErrConflict)
	h := &voucher_api.Handler{Service: svc, Logger: logger.Discard()}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/vouchers", strings.NewReader(`{"code":"DUP","discount_type":"fixed","discount_value":"5"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUsages(t *testing.T) {
	svc := new(MockService)
	svc.On("Usages", mock.Anything, "SAVE20").Return(
		&models.Voucher{ID: "v1", Code: "SAVE20", UsedCount: 1},
		[]models.VoucherUsage{{VoucherID: "v1", OrderID: "o1", UserEmail: "buyer@example.com", DiscountAmount: 500}},
		nil)
	svc.On("Usages", mock.Anything, "NOPE").Return(nil, nil, apperr.NotFound("voucher NOPE"))
	h := &voucher_api.Handler{Service: svc, Logger: logger.Discard()}

	r := chi.NewRouter()
	r.Get("/api/admin/vouchers/{code}/usages", h.Usages)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/vouchers/SAVE20/usages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Voucher models.Voucher        `json:"voucher"`
			Usages  []models.VoucherUsage `json:"usages"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SAVE20", body.Data.Voucher.Code)
	require.Len(t, body.Data.Usages, 1)
	assert.Equal(t, "o1", body.Data.Usages[0].OrderID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/vouchers/NOPE/usages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
