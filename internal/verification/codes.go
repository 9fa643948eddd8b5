package verification

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"ms-orders/internal/apperr"
	"ms-orders/internal/kvstore"
)

// expiredGrace keeps a record around after expiry so a late attempt is told
// the code expired rather than that none exists.
const expiredGrace = 10 * time.Minute

// Code is the stored state of one pending verification.
type Code struct {
	Identifier string    `json:"identifier"`
	Channel    Channel   `json:"channel"`
	Code       string    `json:"code"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CodeStore keeps one active code per identifier in a kvstore.Store.
type CodeStore struct {
	kv  kvstore.Store
	now func() time.Time
}

func NewCodeStore(kv kvstore.Store) *CodeStore {
	return &CodeStore{kv: kv, now: time.Now}
}

func (s *CodeStore) WithClock(now func() time.Time) *CodeStore {
	s.now = now
	return s
}

func codeKey(id Identifier) string {
	return fmt.Sprintf("otp:%s:%s", id.Channel, id.Value)
}

func decodeCode(raw []byte) (*Code, error) {
	var c Code
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode verification code: %w", err)
	}
	return &c, nil
}

func (s *CodeStore) put(c *Code, now time.Time) (*kvstore.Mutation, error) {
	value, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode verification code: %w", err)
	}
	return kvstore.Put(value, c.ExpiresAt.Sub(now)+expiredGrace), nil
}

// Issue stores a fresh code for id, replacing any previous one. It fails with
// a TooSoonError while the previous code is younger than cooldown.
func (s *CodeStore) Issue(ctx context.Context, id Identifier, code string, ttl, cooldown time.Duration) (*Code, error) {
	now := s.now().UTC()
	issued := &Code{
		Identifier: id.Value,
		Channel:    id.Channel,
		Code:       code,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	err := s.kv.Update(ctx, codeKey(id), func(current []byte, exists bool) (*kvstore.Mutation, error) {
		if exists {
			if prev, err := decodeCode(current); err == nil && now.Before(prev.ExpiresAt) {
				remaining := prev.ExpiresAt.Sub(now)
				threshold := prev.ExpiresAt.Sub(prev.CreatedAt) - cooldown
				if remaining > threshold {
					return nil, &apperr.TooSoonError{RetryAfter: remaining - threshold}
				}
			}
		}
		return s.put(issued, now)
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// Revoke deletes the code for id if it is still the given one.
func (s *CodeStore) Revoke(ctx context.Context, id Identifier, code string) error {
	return s.kv.Update(ctx, codeKey(id), func(current []byte, exists bool) (*kvstore.Mutation, error) {
		if !exists {
			return nil, nil
		}
		if c, err := decodeCode(current); err != nil || c.Code == code {
			return kvstore.Remove(), nil
		}
		return nil, nil
	})
}

// Check validates submitted against the stored code in one atomic update.
// The record is deleted on success, on expiry and once maxAttempts wrong
// codes have been submitted.
func (s *CodeStore) Check(ctx context.Context, id Identifier, submitted string, maxAttempts int) error {
	now := s.now().UTC()

	return s.kv.Update(ctx, codeKey(id), func(current []byte, exists bool) (*kvstore.Mutation, error) {
		if !exists {
			return nil, apperr.NotFound("no verification code on file")
		}
		c, err := decodeCode(current)
		if err != nil {
			return kvstore.Remove(), err
		}
		if !now.Before(c.ExpiresAt) {
			return kvstore.Remove(), fmt.Errorf("%w: verification code expired", apperr.ErrExpired)
		}
		if c.Attempts >= maxAttempts {
			return kvstore.Remove(), fmt.Errorf("%w: verification code locked", apperr.ErrTooManyAttempts)
		}

		if subtle.ConstantTimeCompare([]byte(c.Code), []byte(submitted)) == 1 {
			return kvstore.Remove(), nil
		}

		c.Attempts++
		m, err := s.put(c, now)
		if err != nil {
			return nil, err
		}
		return m, &apperr.InvalidCodeError{Remaining: maxAttempts - c.Attempts}
	})
}
