package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"ms-orders/internal/apperr"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
)

// AdminAccounts provisions the administrator user record.
type AdminAccounts interface {
	EnsureAdmin(ctx context.Context, email string) (*models.User, error)
}

// SessionCreator issues sessions. Implemented by session.Store.
type SessionCreator interface {
	Create(ctx context.Context, userID, email string, role models.Role) (string, *models.Session, error)
}

// AdminAuthenticator exchanges the admin PIN for an admin session.
type AdminAuthenticator struct {
	pinHash  []byte
	email    string
	accounts AdminAccounts
	sessions SessionCreator
	log      *logger.Logger
}

func NewAdminAuthenticator(pinHash, email string, accounts AdminAccounts, sessions SessionCreator, log *logger.Logger) *AdminAuthenticator {
	return &AdminAuthenticator{pinHash: []byte(pinHash), email: email, accounts: accounts, sessions: sessions, log: log}
}

// HashPIN produces the bcrypt hash stored in ADMIN_PIN_HASH.
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 {
		return "", apperr.Validation("PIN must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

func (a *AdminAuthenticator) Login(ctx context.Context, pin string) (string, *models.Session, error) {
	if len(a.pinHash) == 0 {
		return "", nil, fmt.Errorf("%w: admin login is not configured", apperr.ErrForbidden)
	}
	if pin == "" {
		return "", nil, apperr.Validation("pin is required")
	}

	if err := bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			a.log.LogSecurity("ADMIN_LOGIN_FAILED", "wrong PIN")
			return "", nil, fmt.Errorf("%w: invalid PIN", apperr.ErrUnauthorized)
		}
		return "", nil, fmt.Errorf("compare pin: %w", err)
	}

	user, err := a.accounts.EnsureAdmin(ctx, a.email)
	if err != nil {
		return "", nil, err
	}

	token, sess, err := a.sessions.Create(ctx, user.ID, user.Email, models.RoleAdmin)
	if err != nil {
		return "", nil, err
	}

	metrics.SessionsIssuedTotal.WithLabelValues(string(models.RoleAdmin)).Inc()
	a.log.LogSecurity("ADMIN_LOGIN", "admin session issued")
	return token, sess, nil
}
