package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfeidau/wp-release-proxy/store"
)

// DefaultMetadataTTL bounds how stale a cached lookup may be.
const DefaultMetadataTTL = 4 * time.Hour

// Index is the short-TTL metadata cache keyed by normalized request path. It
// steers the download fast path; it is never the payload source of truth.
type Index struct {
	docs store.DocumentStore
	ttl  time.Duration
	now  func() time.Time
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithIndexTTL sets the lookup entry lifetime.
func WithIndexTTL(ttl time.Duration) IndexOption {
	return func(idx *Index) {
		idx.ttl = ttl
	}
}

// WithIndexNow sets the time function (for testing).
func WithIndexNow(now func() time.Time) IndexOption {
	return func(idx *Index) {
		idx.now = now
	}
}

// NewIndex creates a metadata cache over the given document store.
func NewIndex(docs store.DocumentStore, opts ...IndexOption) *Index {
	idx := &Index{
		docs: docs,
		ttl:  DefaultMetadataTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Get retrieves the cached lookup for a request path.
// Returns store.ErrNotFound if absent or expired.
func (idx *Index) Get(ctx context.Context, path string) (*CachedLookup, error) {
	data, err := idx.docs.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var lookup CachedLookup
	if err := json.Unmarshal(data, &lookup); err != nil {
		return nil, fmt.Errorf("decoding cached lookup: %w", err)
	}
	return &lookup, nil
}

// Put stores a lookup snapshot under the request path with the index TTL.
// Concurrent writers race last-write-wins; all writers compute the same
// value from the same upstream state.
func (idx *Index) Put(ctx context.Context, path string, lookup *CachedLookup) error {
	if lookup.CachedAt.IsZero() {
		lookup.CachedAt = idx.now()
	}

	data, err := json.Marshal(lookup)
	if err != nil {
		return fmt.Errorf("encoding cached lookup: %w", err)
	}
	return idx.docs.Put(ctx, path, data, idx.ttl)
}
