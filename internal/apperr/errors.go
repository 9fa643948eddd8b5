// Package apperr holds the error taxonomy shared by every component and the
// single place where it is mapped onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrTooManyAttempts   = errors.New("too many attempts")
	ErrTooSoon           = errors.New("too soon")
	ErrInvalidCode       = errors.New("invalid code")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExternalService   = errors.New("external service error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
)

// InvalidCodeError reports a wrong verification code and how many attempts
// the caller has left before the code is purged.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid code: %d attempts remaining", e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// TooSoonError is returned when a new code is requested while the previous
// one is still fresh.
type TooSoonError struct {
	RetryAfter time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("code recently sent, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *TooSoonError) Unwrap() error { return ErrTooSoon }

// TransitionError describes a rejected order status change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func External(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalService, service, err)
}

// HTTPStatus maps an error onto the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrTooManyAttempts), errors.Is(err, ErrTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text shown to API callers. Internal errors are not
// echoed back.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "code expired, request a new code"
	case errors.Is(err, ErrTooManyAttempts):
		return "too many attempts, request a new code"
	case HTTPStatus(err) == http.StatusInternalServerError:
		return "internal server error"
	case errors.Is(err, ErrExternalService):
		return "upstream provider unavailable, try again later"
	default:
		return err.Error()
	}
}
