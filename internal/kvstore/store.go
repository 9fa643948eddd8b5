// Package kvstore is the ephemeral key-value layer behind the verification
// code and session stores. Values are opaque bytes with a per-key TTL.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Mutation is what an UpdateFunc wants done with a key. A nil Mutation leaves
// the key untouched.
type Mutation struct {
	Value  []byte
	TTL    time.Duration
	Delete bool
}

// Put replaces the value and TTL of the key.
func Put(value []byte, ttl time.Duration) *Mutation {
	return &Mutation{Value: value, TTL: ttl}
}

// Remove deletes the key.
func Remove() *Mutation {
	return &Mutation{Delete: true}
}

// UpdateFunc receives the current value (nil and exists=false when absent)
// and returns the mutation to apply. The mutation is applied even when fn also
// returns an error, so a caller can purge or bump a record and still report a
// failure; the error is passed through to the caller of Update.
type UpdateFunc func(current []byte, exists bool) (*Mutation, error)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Update runs fn and applies its mutation atomically with respect to
	// other writers of the same key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
