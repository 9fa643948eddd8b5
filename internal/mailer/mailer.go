// Package mailer sends transactional email through a configurable provider.
package mailer

import (
	"context"
	"fmt"
	"net/http"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
)

type Message struct {
	To      string
	Subject string
	HTML    string
	Tags    map[string]string
}

type SendResult struct {
	MessageID string
}

type Provider interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// SendError is returned by providers when the remote side rejected or never
// received the message. StatusCode is the HTTP or SMTP reply code, zero when
// the failure happened before a reply was read.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same message may succeed.
func (e *SendError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return e.Err != nil
	case e.Provider == "smtp":
		// 4xx is a transient negative completion reply, 5xx is permanent.
		return e.StatusCode >= 400 && e.StatusCode < 500
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return e.StatusCode >= 500
}

// New picks the provider named in configuration.
func New(cfg config.EmailConfig, log *logger.Logger) (Provider, error) {
	switch cfg.Provider {
	case "http":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("EMAIL_API_KEY is required for the http email provider")
		}
		return NewHTTPProvider(cfg.APIURL, cfg.APIKey, cfg.From, &http.Client{Timeout: cfg.Timeout}), nil
	case "smtp":
		return NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From), nil
	case "log", "":
		return NewLogProvider(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
