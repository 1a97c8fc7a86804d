// Package rediscache provides a Redis-backed store.DocumentStore for
// deployments that share cache state across replicas.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfeidau/wp-release-proxy/store"
)

// Store is a Redis-backed document store. Keys are namespaced by prefix so
// multiple tiers can share one Redis instance.
type Store struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultTTL sets the TTL applied when Put is called with a zero TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.defaultTTL = ttl
	}
}

// New creates a Redis-backed store using the given client and key prefix.
func New(client *redis.Client, prefix string, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves the document at the given key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put stores a document. A zero TTL uses the store default; a negative TTL
// stores without expiry. Redis handles expiry natively so no reaper is needed.
func (s *Store) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.fullKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the document at the given key. Deleting a missing key is a
// no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// List returns all live keys under this store's prefix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	pattern := s.prefix + ":*"
	var keys []string

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix)+1:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (s *Store) fullKey(key string) string {
	return s.prefix + ":" + key
}

var _ store.DocumentStore = (*Store)(nil)
