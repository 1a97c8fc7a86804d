// Package store defines the storage interfaces shared by the cache tiers.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: not found")

// DocumentStore is a TTL-aware key to bytes store used by the metadata and
// edge response cache tiers. Implementations must provide per-key get/put
// atomicity and be safe for concurrent use; no cross-key transactions are
// assumed, and concurrent writers to the same key race last-write-wins.
type DocumentStore interface {
	// Get retrieves the document at the given key.
	// Returns ErrNotFound if the key does not exist or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a document with the given TTL.
	// A zero TTL uses the store's default; a negative TTL disables expiry.
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes the document at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// List returns all live keys in the store.
	List(ctx context.Context) ([]string, error)
}
