// Package session maps opaque bearer tokens to authenticated identities.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-orders/internal/apperr"
	"ms-orders/internal/kvstore"
	"ms-orders/internal/models"
)

const DefaultTTL = 30 * 24 * time.Hour

// Store persists sessions in a kvstore.Store under the SHA-256 of the token,
// so the raw token only ever exists on the client.
type Store struct {
	kv  kvstore.Store
	ttl time.Duration
	now func() time.Time
}

func NewStore(kv kvstore.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

// WithClock swaps the time source for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "session:" + hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create issues a token for the identity with a fixed absolute expiry.
func (s *Store) Create(ctx context.Context, userID, email string, role models.Role) (string, *models.Session, error) {
	if userID == "" {
		return "", nil, apperr.Validation("session requires a user id")
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return "", nil, apperr.Validation("unknown role %q", role)
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	sess := &models.Session{
		UserID:    userID,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return "", nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.kv.Set(ctx, key(token), payload, s.ttl); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	return token, sess, nil
}

// Get resolves a token. Expired sessions are deleted and reported as not
// found.
func (s *Store) Get(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, apperr.NotFound("session")
	}

	payload, err := s.kv.Get(ctx, key(token))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, apperr.NotFound("session")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		_ = s.kv.Delete(ctx, key(token))
		return nil, apperr.NotFound("session")
	}

	if !s.now().Before(sess.ExpiresAt) {
		_ = s.kv.Delete(ctx, key(token))
		return nil, apperr.NotFound("session")
	}

	return &sess, nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.kv.Delete(ctx, key(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
