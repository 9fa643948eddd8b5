package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/apperr"
	"ms-orders/internal/kvstore"
	"ms-orders/internal/models"
	"ms-orders/internal/session"
)

func TestStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(kvstore.NewMemoryStore(), 0)

	token, sess, err := store.Create(ctx, "user-1", "a@example.com", models.RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, session.DefaultTTL, sess.ExpiresAt.Sub(sess.CreatedAt))

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.RoleUser, got.Role)

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_TokenIsNotTheStorageKey(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	store := session.NewStore(kv, time.Hour)

	token, _, err := store.Create(ctx, "user-1", "", models.RoleUser)
	require.NoError(t, err)

	_, err = kv.Get(ctx, token)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
	_, err = kv.Get(ctx, "session:"+token)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestStore_ExpiredSessionIsNotFoundAndDeleted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	// The backing store keeps the entry longer than the session lifetime so
	// the lazy delete path is exercised.
	kv := kvstore.NewMemoryStore()
	store := session.NewStore(kv, time.Hour).WithClock(clock)

	token, _, err := store.Create(ctx, "user-1", "", models.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, 1, kv.Len())

	now = now.Add(2 * time.Hour)

	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 0, kv.Len())
}

func TestStore_MultipleSessionsPerUser(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(kvstore.NewMemoryStore(), time.Hour)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, _, err := store.Create(ctx, "user-1", "a@example.com", models.RoleUser)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, tok := range tokens {
		assert.False(t, seen[tok])
		seen[tok] = true
		_, err := store.Get(ctx, tok)
		assert.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, tokens[0]))
	_, err := store.Get(ctx, tokens[1])
	assert.NoError(t, err)
}

func TestStore_RejectsUnknownRole(t *testing.T) {
	_, _, err := session.NewStore(kvstore.NewMemoryStore(), time.Hour).Create(context.Background(), "u", "", models.Role("root"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
