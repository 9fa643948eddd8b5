package auth

import (
	"context"
	"errors"
	"net/http"

	"ms-orders/internal/apperr"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/utils"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	tokenKey   contextKey = "session_token"
	serviceKey contextKey = "service_subject"
)

// SessionGetter resolves bearer tokens. Implemented by session.Store.
type SessionGetter interface {
	Get(ctx context.Context, token string) (*models.Session, error)
}

type Middleware struct {
	Sessions SessionGetter
	Services *ServiceTokens
	Logger   *logger.Logger
}

func (m *Middleware) authenticate(r *http.Request) (*http.Request, error) {
	token, err := ExtractTokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	sess, err := m.Sessions.Get(r.Context(), token)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(r.Context(), sessionKey, sess)
	ctx = context.WithValue(ctx, tokenKey, token)
	return r.WithContext(ctx), nil
}

// RequireSession rejects requests without a live session.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed, err := m.authenticate(r)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				err = apperr.ErrUnauthorized
			}
			utils.WriteError(w, "Authentication required", err)
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// RequireAdmin rejects requests whose session is not an admin session.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Session(r.Context()).IsAdmin() {
			m.Logger.LogSecurity("FORBIDDEN", "non-admin session on "+r.URL.Path)
			utils.WriteError(w, "Admin access required", apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireAdminOrService accepts an admin session or a signed service token
// from a fulfillment partner.
func (m *Middleware) RequireAdminOrService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Services != nil {
			if raw, err := ExtractTokenFromRequest(r); err == nil && looksLikeJWT(raw) {
				subject, err := m.Services.Verify(raw)
				if err != nil {
					m.Logger.LogSecurity("SERVICE_TOKEN_REJECTED", err.Error())
					utils.WriteError(w, "Authentication required", apperr.ErrUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), serviceKey, subject)))
				return
			}
		}
		m.RequireAdmin(next).ServeHTTP(w, r)
	})
}

// Session returns the authenticated session, nil when there is none.
func Session(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionKey).(*models.Session)
	return sess
}

// Token returns the raw bearer token of the current session.
func Token(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// UserID extracts the user id in handlers.
func UserID(ctx context.Context) string {
	if sess := Session(ctx); sess != nil {
		return sess.UserID
	}
	return ""
}

// ServiceSubject is the subject of the service token used, if any.
func ServiceSubject(ctx context.Context) string {
	sub, _ := ctx.Value(serviceKey).(string)
	return sub
}

// WithSession attaches a session to ctx. Used by tests of handlers behind
// RequireSession.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}
