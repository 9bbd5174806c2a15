package store

import (
	"context"
	"time"
)

// Store is the narrow durable state interface the resilience primitives
// depend on. Implementations must make Incr and Update atomic with
// respect to concurrent callers on the same key.
type Store interface {
	// Get returns the value for key, or found=false if absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes key. ttl == 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes key only if it does not exist yet.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer at key, creating it at 0.
	Incr(ctx context.Context, key string) (int64, error)

	// Update applies fn to the current value of key as an atomic
	// read-modify-write. fn receives the current value (found=false if
	// absent); returning an error aborts the update and propagates.
	// ttl == 0 means no expiry on the written value.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// UpdateFunc transforms the current value of a key into the next one.
type UpdateFunc func(current []byte, found bool) ([]byte, error)
