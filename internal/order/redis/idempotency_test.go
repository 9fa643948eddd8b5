package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/logger"
)

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedis(client, time.Hour, logger.Discard()), mr
}

func TestReserve_FirstCallerWins(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()

	orderID, reserved, err := r.Reserve(ctx, "user-1", "key-a")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Empty(t, orderID)

	orderID, reserved, err = r.Reserve(ctx, "user-1", "key-a")
	require.NoError(t, err)
	assert.False(t, reserved, "in-flight key must not be reserved twice")
	assert.Empty(t, orderID)

	require.NoError(t, r.Complete(ctx, "user-1", "key-a", "order-42"))

	orderID, reserved, err = r.Reserve(ctx, "user-1", "key-a")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, "order-42", orderID)
}

func TestReserve_ScopedPerUser(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()

	_, reserved, err := r.Reserve(ctx, "user-1", "same")
	require.NoError(t, err)
	assert.True(t, reserved)

	_, reserved, err = r.Reserve(ctx, "user-2", "same")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestRelease_OnlyFreesInFlightKeys(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := r.Reserve(ctx, "u", "failed")
	require.NoError(t, err)
	require.NoError(t, r.Release(ctx, "u", "failed"))
	assert.False(t, mr.Exists(idempotencyKey("u", "failed")))

	_, _, err = r.Reserve(ctx, "u", "done")
	require.NoError(t, err)
	require.NoError(t, r.Complete(ctx, "u", "done", "order-1"))
	require.NoError(t, r.Release(ctx, "u", "done"))

	val, err := mr.Get(idempotencyKey("u", "done"))
	require.NoError(t, err)
	assert.Equal(t, "order-1", val)

	require.NoError(t, r.Release(ctx, "u", "never-reserved"))
}

func TestReserve_KeyExpires(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := r.Reserve(ctx, "u", "k")
	require.NoError(t, err)
	require.NoError(t, r.Complete(ctx, "u", "k", "order-1"))

	mr.FastForward(2 * time.Hour)

	_, reserved, err := r.Reserve(ctx, "u", "k")
	require.NoError(t, err)
	assert.True(t, reserved)
}
