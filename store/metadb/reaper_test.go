package metadb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReapNowDeletesExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	db := newTestDB(t, WithNow(clock))
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "expired-1", []byte("x"), time.Minute))
	require.NoError(t, db.Put(ctx, "lookup", "expired-2", []byte("y"), time.Minute))
	require.NoError(t, db.Put(ctx, "lookup", "live", []byte("z"), time.Hour))
	require.NoError(t, db.Put(ctx, "lookup", "pinned", []byte("p"), 0))

	now = now.Add(10 * time.Minute)

	r := NewReaper(db, WithReaperNow(clock), WithReaperBatchSize(1))

	deleted := r.ReapNow(ctx)
	require.Equal(t, 2, deleted)

	// expired docs physically gone, live docs untouched
	expired, err := db.GetExpired(ctx, now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1) // "live" expires within the window but is not yet due now

	data, err := db.Get(ctx, "lookup", "live")
	require.NoError(t, err)
	require.Equal(t, []byte("z"), data)

	data, err = db.Get(ctx, "lookup", "pinned")
	require.NoError(t, err)
	require.Equal(t, []byte("p"), data)

	stats := r.Stats()
	require.Equal(t, int64(2), stats.TotalReaped)
	require.Equal(t, 2, stats.LastReapCount)
}

func TestReapNowNothingExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "lookup", "live", []byte("x"), time.Hour))

	r := NewReaper(db)
	require.Equal(t, 0, r.ReapNow(ctx))
}
