package notification

import (
	"context"
	"log/slog"
	"time"
)

// ReaperConfig holds configuration for the stale task reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stale tasks.
	Interval time.Duration

	// StaleThreshold is how long a record can sit in queued/processing
	// before the reaper considers it stale and re-enqueues it.
	StaleThreshold time.Duration

	// BatchSize is the maximum number of stale records to recover per cycle.
	BatchSize int
}

// Reaper periodically scans the store for notifications stuck in
// queued/processing and re-enqueues them, so nothing is permanently lost
// when Redis data is wiped or a worker dies mid-dispatch.
//
// The store is the source of truth; the reaper reconciles the queue
// against it on a timer.
type Reaper struct {
	store  Store
	queue  TaskQueue
	config ReaperConfig
}

// NewReaper creates a stale task reaper.
func NewReaper(store Store, queue TaskQueue, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reaper{store: store, queue: queue, config: cfg}
}

// Run starts the reaper loop. It blocks until the context is cancelled.
// Should be called in a goroutine.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep performs one reaper cycle: find stale records and re-enqueue them.
func (r *Reaper) sweep(ctx context.Context) {
	olderThan := time.Now().Add(-r.config.StaleThreshold)

	stale, err := r.store.ListStale(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		slog.Error("reaper: failed to list stale notifications", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	slog.Warn("reaper: found stale notifications", "count", len(stale))

	recovered := 0
	for _, log := range stale {
		// Reset status to queued before re-enqueuing so the worker
		// picks it up cleanly.
		if err := r.store.UpdateStatus(ctx, log.ID, StatusQueued, ""); err != nil {
			slog.Error("reaper: failed to reset status", "notification_id", log.ID, "error", err)
			continue
		}

		if err := r.queue.EnqueueDispatch(log.ID, Priority(log.Priority)); err != nil {
			slog.Error("reaper: failed to re-enqueue", "notification_id", log.ID, "error", err)
			continue
		}

		recovered++
		slog.Info("reaper: recovered stale notification",
			"notification_id", log.ID,
			"original_status", log.Status,
			"age", time.Since(log.UpdatedAt).Round(time.Second),
		)
	}

	if recovered > 0 {
		slog.Info("reaper: sweep complete", "recovered", recovered, "total_stale", len(stale))
	}
}
