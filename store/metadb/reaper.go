package metadb

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfeidau/wp-release-proxy/telemetry"
)

// Reaper runs periodic cleanup of expired documents. Expiry is already
// enforced lazily on read; the reaper reclaims the space in batched,
// bounded-duration cycles.
type Reaper struct {
	db          *DB
	interval    time.Duration
	batchSize   int
	maxDuration time.Duration
	logger      *slog.Logger
	now         func() time.Time

	lastReapTime  time.Time
	lastReapCount int
	totalReaped   int64
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperInterval sets the cleanup interval.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.interval = d
	}
}

// WithReaperBatchSize sets the maximum entries to process per batch.
func WithReaperBatchSize(n int) ReaperOption {
	return func(r *Reaper) {
		r.batchSize = n
	}
}

// WithReaperMaxDuration sets the maximum time per reap cycle. A cycle that
// exceeds it stops and continues on the next tick.
func WithReaperMaxDuration(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.maxDuration = d
	}
}

// WithReaperLogger sets the logger for the reaper.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// WithReaperNow sets the time function (for testing).
func WithReaperNow(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

// NewReaper creates a new expiry reaper with the given options.
// Defaults: interval=5m, batchSize=100, maxDuration=30s.
func NewReaper(db *DB, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		db:          db,
		interval:    5 * time.Minute,
		batchSize:   100,
		maxDuration: 30 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("reaper started",
		"interval", r.interval,
		"batchSize", r.batchSize,
		"maxDuration", r.maxDuration)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reaper stopped", "totalReaped", r.totalReaped)
			return
		case <-ticker.C:
			r.reapCycle(ctx)
		}
	}
}

// reapCycle runs multiple batches until done or maxDuration exceeded.
func (r *Reaper) reapCycle(ctx context.Context) {
	start := r.now()
	deadline := start.Add(r.maxDuration)
	cycleTotal := 0

	for {
		if r.now().After(deadline) {
			r.logger.Debug("reap cycle hit max duration, will continue next tick",
				"deleted", cycleTotal,
				"duration", r.now().Sub(start))
			break
		}

		count, hasMore := r.reapBatch(ctx)
		cycleTotal += count

		if !hasMore {
			break
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	if cycleTotal > 0 {
		r.lastReapTime = r.now()
		r.lastReapCount = cycleTotal
		r.totalReaped += int64(cycleTotal)

		r.logger.Info("reaper cycle complete",
			"deleted", cycleTotal,
			"duration", r.now().Sub(start),
			"totalReaped", r.totalReaped)
	}

	telemetry.RecordReaperCycle(ctx, cycleTotal, time.Since(start))
}

// reapBatch processes a single batch of expired entries.
// Returns the count deleted and whether more entries remain.
func (r *Reaper) reapBatch(ctx context.Context) (int, bool) {
	now := r.now()

	expired, err := r.db.GetExpired(ctx, now, r.batchSize)
	if err != nil {
		r.logger.Error("failed to get expired documents", "error", err)
		return 0, false
	}

	if len(expired) == 0 {
		return 0, false
	}

	r.logger.Debug("reaping expired documents", "count", len(expired))

	if err := r.db.DeleteExpired(ctx, expired); err != nil {
		r.logger.Error("failed to batch delete expired documents",
			"error", err,
			"count", len(expired))
		return 0, false
	}

	hasMore := len(expired) == r.batchSize
	return len(expired), hasMore
}

// ReapNow runs a single reap cycle immediately.
// Useful for testing or manual cleanup.
func (r *Reaper) ReapNow(ctx context.Context) int {
	start := r.now()
	total := 0

	for {
		count, hasMore := r.reapBatch(ctx)
		total += count
		if !hasMore {
			break
		}
	}

	if total > 0 {
		r.lastReapTime = r.now()
		r.lastReapCount = total
		r.totalReaped += int64(total)

		r.logger.Info("manual reap complete",
			"deleted", total,
			"duration", r.now().Sub(start))
	}

	return total
}

// Stats returns reaper statistics.
func (r *Reaper) Stats() ReaperStats {
	return ReaperStats{
		LastReapTime:  r.lastReapTime,
		LastReapCount: r.lastReapCount,
		TotalReaped:   r.totalReaped,
		Interval:      r.interval,
		BatchSize:     r.batchSize,
	}
}

// ReaperStats contains reaper statistics.
type ReaperStats struct {
	LastReapTime  time.Time
	LastReapCount int
	TotalReaped   int64
	Interval      time.Duration
	BatchSize     int
}
