package store

import (
	"context"
	"time"
)

// Store is the key/value storage used to mirror the reconciled lock-holder
// snapshot. Values survive service restarts for as long as the embedded
// store process group lives; the registry treats it as a cache of the last
// known snapshot, never as the source of truth (the external lock manager
// is).
type Store interface {
	// Put stores a value under key. A ttl of 0 means no expiry.
	Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get retrieves the value for key. Returns an error when the key does
	// not exist.
	Get(ctx context.Context, key string) (interface{}, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies the store is reachable, for health checks.
	Ping(ctx context.Context) error

	// Close shuts the store down.
	Close(ctx context.Context) error
}
