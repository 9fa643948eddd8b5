package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const maxTxRetries = 32

// RedisStore keeps values in Redis so codes and sessions are shared between
// instances and survive restarts of the service.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{Client: client, Prefix: prefix}
}

func (r *RedisStore) key(k string) string {
	return r.Prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.Client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.Client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Update uses WATCH/MULTI so a concurrent writer of the same key makes the
// transaction fail and fn is re-run against the fresh value.
func (r *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	fullKey := r.key(key)

	for i := 0; i < maxTxRetries; i++ {
		var fnErr error

		txf := func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, fullKey).Bytes()
			exists := true
			if errors.Is(err, redis.Nil) {
				current, exists = nil, false
			} else if err != nil {
				return err
			}

			var mut *Mutation
			mut, fnErr = fn(current, exists)
			if mut == nil {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if mut.Delete {
					pipe.Del(ctx, fullKey)
				} else {
					pipe.Set(ctx, fullKey, mut.Value, mut.TTL)
				}
				return nil
			})
			return err
		}

		err := r.Client.Watch(ctx, txf, fullKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis update %s: %w", key, err)
		}
		return fnErr
	}

	return fmt.Errorf("redis update %s: too much contention", key)
}
