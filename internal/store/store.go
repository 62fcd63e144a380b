// Package store provides the small key/value abstraction used for short-lived
// relay state: OAuth login states and webhook message IDs.
//
// Sessions themselves are never written here; they live only in the
// in-process session registry.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store is a TTL-aware key/value store.
type Store interface {
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores value only when key does not exist yet and reports
	// whether it did so.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Take returns the value for key and deletes it atomically.
	Take(ctx context.Context, key string) ([]byte, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
