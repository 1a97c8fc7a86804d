package metadb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/wp-release-proxy/store"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "meta.db")
	opts = append(opts, WithNoSync(true))
	db, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.Put(ctx, "lookup", "acme/hello", []byte(`{"tag":"1.2.3"}`), 0)
	require.NoError(t, err)

	data, err := db.Get(ctx, "lookup", "acme/hello")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"tag":"1.2.3"}`), data)
}

func TestGetMissing(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get(context.Background(), "lookup", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestKindIsolation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "key", []byte("a"), 0))
	require.NoError(t, db.Put(ctx, "edge", "key", []byte("b"), 0))

	data, err := db.Get(ctx, "lookup", "key")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), data)

	data, err = db.Get(ctx, "edge", "key")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), data)
}

func TestExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := newTestDB(t, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "short", []byte("x"), time.Hour))

	data, err := db.Get(ctx, "lookup", "short")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)

	now = now.Add(2 * time.Hour)

	_, err = db.Get(ctx, "lookup", "short")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNoExpiryWithoutTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := newTestDB(t, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "forever", []byte("x"), 0))

	now = now.Add(24 * 365 * time.Hour)

	data, err := db.Get(ctx, "lookup", "forever")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "key", []byte("x"), time.Hour))
	require.NoError(t, db.Delete(ctx, "lookup", "key"))

	_, err := db.Get(ctx, "lookup", "key")
	require.ErrorIs(t, err, ErrNotFound)

	// deleting again is a no-op
	require.NoError(t, db.Delete(ctx, "lookup", "key"))
}

func TestList(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := newTestDB(t, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "a", []byte("1"), 0))
	require.NoError(t, db.Put(ctx, "lookup", "b", []byte("2"), time.Minute))
	require.NoError(t, db.Put(ctx, "edge", "c", []byte("3"), 0))

	keys, err := db.List(ctx, "lookup")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	now = now.Add(time.Hour)

	keys, err = db.List(ctx, "lookup")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a"}, keys)
}

func TestOverwriteResetsExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := newTestDB(t, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "key", []byte("v1"), time.Minute))

	now = now.Add(30 * time.Second)
	require.NoError(t, db.Put(ctx, "lookup", "key", []byte("v2"), time.Hour))

	now = now.Add(10 * time.Minute)

	data, err := db.Get(ctx, "lookup", "key")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), data)
}

func TestIndexDocumentStore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := newTestDB(t, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	idx := db.Index("lookup", time.Minute)

	require.NoError(t, idx.Put(ctx, "key", []byte("x"), 0))

	data, err := idx.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)

	// zero TTL used the index default
	now = now.Add(2 * time.Minute)
	_, err = idx.Get(ctx, "key")
	require.ErrorIs(t, err, store.ErrNotFound)

	// negative TTL stores without expiry
	require.NoError(t, idx.Put(ctx, "pinned", []byte("y"), -1))
	now = now.Add(24 * time.Hour)
	data, err = idx.Get(ctx, "pinned")
	require.NoError(t, err)
	require.Equal(t, []byte("y"), data)
}

func TestIndexJSON(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	idx := db.Index("lookup", time.Hour)

	type doc struct {
		Tag string `json:"tag"`
	}

	require.NoError(t, idx.PutJSON(ctx, "acme/hello", doc{Tag: "2.0.0"}))

	var got doc
	require.NoError(t, idx.GetJSON(ctx, "acme/hello", &got))
	require.Equal(t, "2.0.0", got.Tag)

	err := idx.GetJSON(ctx, "missing", &got)
	require.ErrorIs(t, err, store.ErrNotFound)
}
