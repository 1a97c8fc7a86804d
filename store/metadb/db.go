// Package metadb provides the bbolt-backed metadata database used by the
// cache tiers: TTL-aware document storage with an expiry index and a
// background reaper.
package metadb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when an entry does not exist or has expired.
var ErrNotFound = errors.New("metadb: not found")

// Bucket names for bbolt storage.
var (
	bucketDocs         = []byte("docs")           // kind|0x00|key -> envelope JSON
	bucketDocsByExpiry = []byte("docs_by_expiry") // timestamp|kind|0x00|key -> kind|0x00|key
	bucketExpiryByKey  = []byte("expiry_by_key")  // kind|0x00|key -> 8-byte timestamp (reverse index)
)

// DB is the bbolt-backed metadata database. One DB serves multiple kinds;
// use Index to get a kind-scoped view implementing store.DocumentStore.
type DB struct {
	db     *bbolt.DB
	codec  *Codec
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// Option configures a DB instance.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNow sets the time function (for testing).
func WithNow(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: this improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// Open opens (creating if needed) the metadata database at the given path.
func Open(path string, opts ...Option) (*DB, error) {
	d := &DB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	d.codec = codec

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		codec.Close()
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}
	db.NoSync = d.noSync

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocs, bucketDocsByExpiry, bucketExpiryByKey} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		codec.Close()
		return nil, err
	}

	d.db = db
	return d, nil
}

// Close closes the database and releases codec resources.
func (d *DB) Close() error {
	if d.codec != nil {
		d.codec.Close()
	}
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Index returns a kind-scoped view of the database with the given default TTL.
func (d *DB) Index(kind string, defaultTTL time.Duration) *Index {
	return &Index{db: d, kind: kind, defaultTTL: defaultTTL}
}

// Get retrieves and decodes the document stored under (kind, key).
// Expired entries are treated as absent; the reaper removes them later.
func (d *DB) Get(ctx context.Context, kind, key string) ([]byte, error) {
	dk := docKey(kind, key)

	var env Envelope
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDocs).Get(dk)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &env)
	})
	if err != nil {
		return nil, err
	}

	if env.Expired(d.now()) {
		return nil, ErrNotFound
	}

	return d.codec.DecodePayload(env.Payload, env.Encoding, env.Digest, env.Size)
}

// Put stores a document under (kind, key) with the given TTL.
// A TTL <= 0 stores the document without expiry.
func (d *DB) Put(ctx context.Context, kind, key string, data []byte, ttl time.Duration) error {
	payload, encoding, digest, err := d.codec.EncodePayload(data)
	if err != nil {
		return err
	}

	now := d.now()
	env := Envelope{
		Version:         CurrentEnvelopeVersion,
		Encoding:        encoding,
		Payload:         payload,
		Digest:          digest,
		Size:            uint64(len(data)),
		FetchedAtUnixMs: now.UnixMilli(),
	}
	if ttl > 0 {
		env.ExpiresAtUnixMs = now.Add(ttl).UnixMilli()
		env.TTLSeconds = int64(ttl.Seconds())
	}

	raw, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	dk := docKey(kind, key)
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := removeExpiryIndex(tx, dk); err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put(dk, raw); err != nil {
			return fmt.Errorf("writing document: %w", err)
		}
		if env.ExpiresAtUnixMs == 0 {
			return nil
		}
		ts := encodeTimestamp(env.ExpiresAt())
		if err := tx.Bucket(bucketDocsByExpiry).Put(expiryKey(ts, dk), dk); err != nil {
			return fmt.Errorf("writing expiry index: %w", err)
		}
		if err := tx.Bucket(bucketExpiryByKey).Put(dk, ts); err != nil {
			return fmt.Errorf("writing expiry reverse index: %w", err)
		}
		return nil
	})
}

// Delete removes the document stored under (kind, key).
// Returns nil if the entry does not exist (idempotent).
func (d *DB) Delete(ctx context.Context, kind, key string) error {
	dk := docKey(kind, key)
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := removeExpiryIndex(tx, dk); err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Delete(dk)
	})
}

// List returns all live keys of the given kind. Expired entries are skipped.
func (d *DB) List(ctx context.Context, kind string) ([]string, error) {
	prefix := docKey(kind, "")
	now := d.now()

	var keys []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDocs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var env Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				continue
			}
			if env.Expired(now) {
				continue
			}
			keys = append(keys, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ExpiredKey identifies an expired document for batch deletion.
type ExpiredKey struct {
	Kind string
	Key  string
}

// GetExpired returns up to limit documents whose expiry precedes the given
// time, oldest first.
func (d *DB) GetExpired(ctx context.Context, before time.Time, limit int) ([]ExpiredKey, error) {
	bound := encodeTimestamp(before)

	var expired []ExpiredKey
	err := d.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDocsByExpiry).Cursor()
		for k, v := c.First(); k != nil && len(expired) < limit; k, v = c.Next() {
			if bytes.Compare(k[:8], bound) > 0 {
				break
			}
			kind, key, ok := splitDocKey(v)
			if !ok {
				continue
			}
			expired = append(expired, ExpiredKey{Kind: kind, Key: key})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// DeleteExpired removes the given documents and their expiry index entries
// in a single transaction.
func (d *DB) DeleteExpired(ctx context.Context, keys []ExpiredKey) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, ek := range keys {
			dk := docKey(ek.Kind, ek.Key)
			if err := removeExpiryIndex(tx, dk); err != nil {
				return err
			}
			if err := tx.Bucket(bucketDocs).Delete(dk); err != nil {
				return err
			}
		}
		return nil
	})
}

// removeExpiryIndex drops the expiry index entries for a document key, using
// the reverse index to locate the timestamped entry.
func removeExpiryIndex(tx *bbolt.Tx, dk []byte) error {
	reverse := tx.Bucket(bucketExpiryByKey)
	ts := reverse.Get(dk)
	if ts == nil {
		return nil
	}
	if err := tx.Bucket(bucketDocsByExpiry).Delete(expiryKey(ts, dk)); err != nil {
		return err
	}
	return reverse.Delete(dk)
}

// docKey builds the composite bucket key: kind|0x00|key.
func docKey(kind, key string) []byte {
	dk := make([]byte, 0, len(kind)+1+len(key))
	dk = append(dk, kind...)
	dk = append(dk, 0)
	dk = append(dk, key...)
	return dk
}

// splitDocKey parses a composite key back into (kind, key).
func splitDocKey(dk []byte) (kind, key string, ok bool) {
	i := bytes.IndexByte(dk, 0)
	if i < 0 {
		return "", "", false
	}
	return string(dk[:i]), string(dk[i+1:]), true
}

// expiryKey builds the expiry index key: [8-byte timestamp][doc key].
func expiryKey(ts, dk []byte) []byte {
	k := make([]byte, 0, 8+len(dk))
	k = append(k, ts[:8]...)
	k = append(k, dk...)
	return k
}

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice
// so lexicographic ordering matches time ordering. Uses an offset to handle
// negative nanosecond values (pre-1970 dates).
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}
