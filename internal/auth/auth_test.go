package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ms-orders/internal/apperr"
	"ms-orders/internal/auth"
	"ms-orders/internal/kvstore"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/session"
)

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) EnsureAdmin(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newMiddleware(t *testing.T) (*auth.Middleware, *session.Store) {
	t.Helper()
	sessions := session.NewStore(kvstore.NewMemoryStore(), time.Hour)
	return &auth.Middleware{
		Sessions: sessions,
		Services: auth.NewServiceTokens("test-secret", "ms-orders"),
		Logger:   logger.Discard(),
	}, sessions
}

func okHandler(t *testing.T, check func(r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireSession(t *testing.T) {
	mw, sessions := newMiddleware(t)
	token, _, err := sessions.Create(context.Background(), "u1", "buyer@example.com", models.RoleUser)
	require.NoError(t, err)

	handler := mw.RequireSession(okHandler(t, func(r *http.Request) {
		assert.Equal(t, "u1", auth.UserID(r.Context()))
		assert.Equal(t, token, auth.Token(r.Context()))
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + token, http.StatusUnauthorized},
		{"unknown", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	mw, sessions := newMiddleware(t)
	userToken, _, _ := sessions.Create(context.Background(), "u1", "", models.RoleUser)
	adminToken, _, _ := sessions.Create(context.Background(), "a1", "", models.RoleAdmin)

	handler := mw.RequireAdmin(okHandler(t, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/vouchers", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAdminOrService(t *testing.T) {
	mw, _ := newMiddleware(t)
	token, err := mw.Services.Issue("printshop", time.Hour)
	require.NoError(t, err)

	handler := mw.RequireAdminOrService(okHandler(t, func(r *http.Request) {
		assert.Equal(t, "printshop", auth.ServiceSubject(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/orders/o1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	forged, err := auth.NewServiceTokens("other-secret", "ms-orders").Issue("printshop", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceTokens_Expired(t *testing.T) {
	tokens := auth.NewServiceTokens("s", "ms-orders")
	token, err := tokens.Issue("printshop", -time.Minute)
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.Error(t, err)
}

func TestNewServiceTokens_DisabledWithoutSecret(t *testing.T) {
	assert.Nil(t, auth.NewServiceTokens("", "ms-orders"))
}

func TestAdminAuthenticator_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("4821"), bcrypt.MinCost)
	require.NoError(t, err)

	accounts := new(MockAccounts)
	accounts.On("EnsureAdmin", mock.Anything, "admin@example.com").
		Return(&models.User{ID: "a1", Email: "admin@example.com", Role: models.RoleAdmin}, nil)
	sessions := session.NewStore(kvstore.NewMemoryStore(), time.Hour)

	a := auth.NewAdminAuthenticator(string(hash), "admin@example.com", accounts, sessions, logger.Discard())

	_, _, err = a.Login(context.Background(), "0000")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	accounts.AssertNotCalled(t, "EnsureAdmin", mock.Anything, mock.Anything)

	token, sess, err := a.Login(context.Background(), "4821")
	require.NoError(t, err)
	assert.True(t, sess.IsAdmin())

	stored, err := sessions.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.UserID)
}

func TestAdminAuthenticator_NotConfigured(t *testing.T) {
	a := auth.NewAdminAuthenticator("", "admin@example.com", nil, nil, logger.Discard())
	_, _, err := a.Login(context.Background(), "1234")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestHashPIN(t *testing.T) {
	_, err := auth.HashPIN("12")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	hash, err := auth.HashPIN("4821")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("4821")))
}
