// Package edgecache provides a short-TTL cache of complete HTTP responses
// keyed by request URL, serving repeat requests without re-entering the
// resolution pipeline.
package edgecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wolfeidau/wp-release-proxy/store"
)

// DefaultTTL is the edge cache entry lifetime.
const DefaultTTL = time.Hour

// ErrNotCacheable is returned when a response must not be stored.
var ErrNotCacheable = errors.New("edgecache: response not cacheable")

// CachedResponse is a complete materialized HTTP response. Header order is
// not preserved; multi-valued headers are flattened to their first value.
type CachedResponse struct {
	Status int               `json:"status"`
	Header map[string]string `json:"header"`
	Body   []byte            `json:"body"`
}

// WriteTo replays the cached response onto a ResponseWriter.
func (cr *CachedResponse) WriteTo(w http.ResponseWriter) error {
	for k, v := range cr.Header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cr.Status)
	_, err := w.Write(cr.Body)
	return err
}

// Cache is the edge response cache backed by a document store.
type Cache struct {
	docs   store.DocumentStore
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an edge cache over the given document store.
func New(docs store.DocumentStore, opts ...Option) *Cache {
	c := &Cache{
		docs:   docs,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "edgecache")
	return c
}

// Key derives the cache key from the request URL. Headers never participate,
// so clients cannot vary cache entries by header.
func Key(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	key := scheme + "://" + r.Host + r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}

// Match returns the cached response for the key, or store.ErrNotFound.
// Keys take a string rather than the request so background writers never
// retain a request past its handler.
func (c *Cache) Match(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := c.docs.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var cr CachedResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("decoding cached response: %w", err)
	}
	return &cr, nil
}

// Put stores a response under the key. Error responses are never stored so
// transient failures cannot be pinned for the TTL window.
func (c *Cache) Put(ctx context.Context, key string, cr *CachedResponse) error {
	if cr.Status >= http.StatusBadRequest {
		return ErrNotCacheable
	}

	data, err := json.Marshal(cr)
	if err != nil {
		return fmt.Errorf("encoding cached response: %w", err)
	}
	return c.docs.Put(ctx, key, data, c.ttl)
}
