package notification

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ms-orders/internal/config"
	"ms-orders/internal/mailer"
)

type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Classify decides whether a failed send is worth another attempt.
func Classify(err error) Class {
	var sendErr *mailer.SendError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	case errors.As(err, &sendErr):
		if sendErr.Temporary() {
			return Transient
		}
		return Permanent
	case errors.As(err, &netErr):
		return Transient
	}
	return Permanent
}

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

func PolicyFromConfig(cfg config.NotificationConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		Multiplier:      cfg.Multiplier,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts.
// notify is called before each wait.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, notify func(err error, wait time.Duration)) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err != nil && Classify(err) == Permanent {
			return backoff.Permanent(err)
		}
		return err
	}

	maxRetries := p.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx), notify)
	return attempts, err
}
