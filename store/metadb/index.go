package metadb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wolfeidau/wp-release-proxy/store"
)

// Index is a kind-scoped view of the database with a default TTL. It
// implements store.DocumentStore so cache tiers can be backed by either
// bbolt or Redis interchangeably.
type Index struct {
	db         *DB
	kind       string
	defaultTTL time.Duration
}

// Kind returns the kind this index is scoped to.
func (idx *Index) Kind() string {
	return idx.kind
}

// Get retrieves the document at the given key.
func (idx *Index) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := idx.db.Get(ctx, idx.kind, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put stores a document. A zero TTL uses the index default; a negative TTL
// stores without expiry.
func (idx *Index) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = idx.defaultTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	return idx.db.Put(ctx, idx.kind, key, data, ttl)
}

// Delete removes the document at the given key.
func (idx *Index) Delete(ctx context.Context, key string) error {
	return idx.db.Delete(ctx, idx.kind, key)
}

// List returns all live keys for this kind.
func (idx *Index) List(ctx context.Context) ([]string, error) {
	return idx.db.List(ctx, idx.kind)
}

// GetJSON retrieves and unmarshals a JSON document.
func (idx *Index) GetJSON(ctx context.Context, key string, v any) error {
	data, err := idx.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON marshals a value to JSON and stores it with the default TTL.
func (idx *Index) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return idx.Put(ctx, key, data, 0)
}

// Compile-time interface check
var _ store.DocumentStore = (*Index)(nil)
