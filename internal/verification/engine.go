// Package verification implements one-time-code identity verification for
// email addresses and phone numbers.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-orders/internal/apperr"
	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/mailer"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	"ms-orders/internal/utils"
)

const codeDigits = 6

// UserStore resolves the account behind a verified identifier.
type UserStore interface {
	FindOrCreate(ctx context.Context, email, phone string) (*models.User, error)
}

// SessionIssuer creates bearer sessions.
type SessionIssuer interface {
	Create(ctx context.Context, userID, email string, role models.Role) (string, *models.Session, error)
}

// SMSSender is the subset of sms.Provider the engine needs.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

type Engine struct {
	codes    *CodeStore
	email    mailer.Provider
	sms      SMSSender
	users    UserStore
	sessions SessionIssuer
	cfg      config.VerificationConfig
	log      *logger.Logger

	generate func() (string, error)
}

func NewEngine(codes *CodeStore, email mailer.Provider, sms SMSSender, users UserStore, sessions SessionIssuer, cfg config.VerificationConfig, log *logger.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Engine{
		codes:    codes,
		email:    email,
		sms:      sms,
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		generate: func() (string, error) { return utils.GenerateNumericCode(codeDigits) },
	}
}

type RequestResult struct {
	Sent      bool      `json:"sent"`
	Channel   Channel   `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginResult struct {
	Token   string          `json:"token"`
	Session *models.Session `json:"session"`
	User    *models.User    `json:"user"`
}

func (e *Engine) ttl(ch Channel) time.Duration {
	if ch == ChannelMobile {
		return e.cfg.MobileCodeTTL
	}
	return e.cfg.EmailCodeTTL
}

// RequestCode issues a new code for the identifier and dispatches it. A code
// that could not be delivered is revoked so the caller may retry at once.
func (e *Engine) RequestCode(ctx context.Context, rawIdentifier string) (*RequestResult, error) {
	id, err := NormalizeIdentifier(rawIdentifier)
	if err != nil {
		return nil, err
	}

	code, err := e.generate()
	if err != nil {
		return nil, err
	}

	ttl := e.ttl(id.Channel)
	issued, err := e.codes.Issue(ctx, id, code, ttl, e.cfg.ResendCooldown)
	if err != nil {
		metrics.VerificationCodesTotal.WithLabelValues(string(id.Channel), "rejected").Inc()
		e.log.LogVerification("REQUEST_REJECTED", id.Value, err.Error())
		return nil, err
	}

	if err := e.dispatch(ctx, id, code, ttl); err != nil {
		if revokeErr := e.codes.Revoke(ctx, id, code); revokeErr != nil {
			e.log.Error("VERIFICATION", fmt.Sprintf("Failed to revoke undelivered code: %v", revokeErr))
		}
		metrics.VerificationCodesTotal.WithLabelValues(string(id.Channel), "dispatch_failed").Inc()
		e.log.LogVerification("DISPATCH_FAILED", id.Value, err.Error())
		return nil, apperr.External(string(id.Channel), err)
	}

	metrics.VerificationCodesTotal.WithLabelValues(string(id.Channel), "sent").Inc()
	e.log.LogVerification("CODE_SENT", id.Value, fmt.Sprintf("expires %s", issued.ExpiresAt.Format(time.RFC3339)))
	return &RequestResult{Sent: true, Channel: id.Channel, ExpiresAt: issued.ExpiresAt}, nil
}

func (e *Engine) dispatch(ctx context.Context, id Identifier, code string, ttl time.Duration) error {
	minutes := int(ttl / time.Minute)
	switch id.Channel {
	case ChannelMobile:
		return e.sms.Send(ctx, id.Value, fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes))
	default:
		_, err := e.email.Send(ctx, mailer.Message{
			To:      id.Value,
			Subject: "Your verification code",
			HTML: fmt.Sprintf(`<p>Your verification code is</p><p style="font-size:28px;letter-spacing:6px"><strong>%s</strong></p><p>It expires in %d minutes. If you did not request it, ignore this email.</p>`,
				code, minutes),
			Tags: map[string]string{"type": "verification"},
		})
		return err
	}
}

// VerifyCode checks the code without creating a session.
func (e *Engine) VerifyCode(ctx context.Context, rawIdentifier, code string) (Identifier, error) {
	id, err := NormalizeIdentifier(rawIdentifier)
	if err != nil {
		return Identifier{}, err
	}
	if code == "" {
		return Identifier{}, apperr.Validation("code is required")
	}

	err = e.codes.Check(ctx, id, code, e.cfg.MaxAttempts)
	metrics.VerificationAttemptsTotal.WithLabelValues(attemptResult(err)).Inc()
	if err != nil {
		e.log.LogVerification("VERIFY_FAILED", id.Value, err.Error())
		return Identifier{}, err
	}

	e.log.LogVerification("VERIFIED", id.Value, "code accepted")
	return id, nil
}

// Login verifies the code, then finds or creates the user and issues a
// session for it.
func (e *Engine) Login(ctx context.Context, rawIdentifier, code string) (*LoginResult, error) {
	id, err := e.VerifyCode(ctx, rawIdentifier, code)
	if err != nil {
		return nil, err
	}

	var email, phone string
	if id.Channel == ChannelEmail {
		email = id.Value
	} else {
		phone = id.Value
	}

	user, err := e.users.FindOrCreate(ctx, email, phone)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	token, sess, err := e.sessions.Create(ctx, user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsIssuedTotal.WithLabelValues(string(user.Role)).Inc()
	e.log.LogSecurity("LOGIN", fmt.Sprintf("user=%s channel=%s", user.ID, id.Channel))
	return &LoginResult{Token: token, Session: sess, User: user}, nil
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	case errors.Is(err, apperr.ErrTooManyAttempts):
		return "locked"
	case errors.Is(err, apperr.ErrInvalidCode):
		return "invalid"
	}
	return "error"
}

// SetCodeGenerator replaces the random code source. Used by tests.
func (e *Engine) SetCodeGenerator(fn func() (string, error)) {
	e.generate = fn
}
