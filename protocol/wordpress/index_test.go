package wordpress

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/wp-release-proxy/store"
	"github.com/wolfeidau/wp-release-proxy/store/metadb"
)

func TestIndexRoundTrip(t *testing.T) {
	db, err := metadb.Open(filepath.Join(t.TempDir(), "meta.db"), metadb.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx := NewIndex(db.Index("lookup", DefaultMetadataTTL))
	ctx := context.Background()

	lookup := &CachedLookup{
		LatestRelease: Release{TagName: "1.2.3", Assets: asset()},
		Payload:       Payload{Name: "Hello World", Slug: "hello"},
	}

	require.NoError(t, idx.Put(ctx, "plugin/acme/hello", lookup))
	require.False(t, lookup.CachedAt.IsZero())

	got, err := idx.Get(ctx, "plugin/acme/hello")
	require.NoError(t, err)
	require.Equal(t, "1.2.3", got.LatestRelease.TagName)
	require.Equal(t, "Hello World", got.Payload.Name)
}

func TestIndexMiss(t *testing.T) {
	db, err := metadb.Open(filepath.Join(t.TempDir(), "meta.db"), metadb.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx := NewIndex(db.Index("lookup", DefaultMetadataTTL))

	_, err = idx.Get(context.Background(), "plugin/acme/missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIndexEntryExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db, err := metadb.Open(filepath.Join(t.TempDir(), "meta.db"),
		metadb.WithNoSync(true),
		metadb.WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx := NewIndex(db.Index("lookup", DefaultMetadataTTL),
		WithIndexNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, "plugin/acme/hello", &CachedLookup{
		LatestRelease: Release{TagName: "1.0.0"},
	}))

	_, err = idx.Get(ctx, "plugin/acme/hello")
	require.NoError(t, err)

	// default TTL is four hours
	now = now.Add(5 * time.Hour)

	_, err = idx.Get(ctx, "plugin/acme/hello")
	require.ErrorIs(t, err, store.ErrNotFound)
}
