package domain

import (
	"context"
	"time"
)

// KeyValueStore is the port for the shared remote key-value store backing
// the conversation cache and the rate limiters. Values are strings; every
// key carries its own TTL. Implementations wrap transport failures with
// ErrStoreUnavailable.
type KeyValueStore interface {
	// Get returns the value and true, or "" and false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value and TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments the integer stored at key. An absent key is
	// created at 0 and then incremented, without a TTL.
	Incr(ctx context.Context, key string) (int64, error)
}
