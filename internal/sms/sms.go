// Package sms delivers verification codes by text message.
package sms

import (
	"context"
	"fmt"
	"net/http"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
)

type Provider interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

type SendError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sms: status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sms: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func New(cfg config.SMSConfig, log *logger.Logger) (Provider, error) {
	switch cfg.Provider {
	case "twilio":
		if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
			return nil, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM are required")
		}
		return NewTwilioProvider(cfg.BaseURL, cfg.AccountSID, cfg.AuthToken, cfg.From, &http.Client{Timeout: cfg.Timeout}), nil
	case "log", "":
		return NewLogProvider(log), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}

type LogProvider struct {
	logger *logger.Logger
}

func NewLogProvider(log *logger.Logger) *LogProvider {
	return &LogProvider{logger: log}
}

func (p *LogProvider) Send(_ context.Context, phoneNumber, message string) error {
	p.logger.Info("SMS", fmt.Sprintf("to=%s body=%q", phoneNumber, message))
	return nil
}
