package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-orders/internal/logger"
)

// inFlight marks a key whose checkout has not produced an order yet.
const inFlight = "in-flight"

// Redis keeps checkout idempotency keys. A key first holds the in-flight
// marker and then the id of the order it produced.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{Client: client, TTL: ttl, Logger: log}
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("checkout_idem:%s:%s", scope, key)
}

// Reserve claims scope/key for a new checkout. When the key is already taken
// it returns the order id stored under it, empty while that checkout is still
// running.
func (r *Redis) Reserve(ctx context.Context, scope, key string) (orderID string, reserved bool, err error) {
	k := idempotencyKey(scope, key)
	ok, err := r.Client.SetNX(ctx, k, inFlight, r.TTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	val, err := r.Client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; try once more.
		ok, err = r.Client.SetNX(ctx, k, inFlight, r.TTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		return "", ok, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == inFlight {
		return "", false, nil
	}
	return val, false, nil
}

// Complete binds the key to the order the checkout produced.
func (r *Redis) Complete(ctx context.Context, scope, key, orderID string) error {
	return r.Client.Set(ctx, idempotencyKey(scope, key), orderID, r.TTL).Err()
}

// Release frees a key whose checkout failed so the client can retry.
func (r *Redis) Release(ctx context.Context, scope, key string) error {
	k := idempotencyKey(scope, key)
	val, err := r.Client.Get(ctx, k).Result()
	if err == redis.Nil {
		return nil // already gone
	}
	if err != nil {
		return err
	}
	if val == inFlight {
		return r.Client.Del(ctx, k).Err()
	}
	return nil
}
