// Package cache provides the short-lived key-value store used to correlate
// OAuth state and device codes with accounts.
package cache

import (
	"context"
	"time"
)

// NoExpiry is reported by TTL for keys that exist without an expiry.
const NoExpiry time.Duration = -1

// Store is a key-value store with optional per-key TTL. Expired keys are
// never returned by Get or Exists.
type Store interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; ttl <= 0 keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Increment adds delta to an integer value, creating it at 0 first.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	// Expire sets a TTL on an existing key and reports whether it existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime, NoExpiry for persistent keys,
	// and ok=false when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	Ping(ctx context.Context) error
	Close() error
}
