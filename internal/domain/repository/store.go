package repository

import (
	"context"
	"time"
)

// Store is a networked key-value store used as the caching tier.
// Reachability is not guaranteed; callers must be prepared to degrade.
type Store interface {
	// Get the raw value for the key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set the value for the key with an expiry enforced by the store.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete the given keys. Absent keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Scan a batch of keys matching the glob pattern, resuming from cursor.
	// A returned cursor of 0 means the iteration is finished.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (uint64, []string, error)
	// Ping probes the store for liveness.
	Ping(ctx context.Context) error
}
