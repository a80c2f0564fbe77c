package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/steady-platform/steady/internal/metrics"
)

const (
	defaultRetentionDays = 90
	defaultCleanInterval = 6 * time.Hour
	deleteBatchSize      = 5000
	maxBatchesPerRun     = 20
)

// Cleaner prunes usage events past the retention horizon in bounded batches
// so a large backlog never turns into one long-running delete.
type Cleaner struct {
	repo          Repository
	retentionDays int
	interval      time.Duration
	now           func() time.Time
}

// NewCleaner creates a Cleaner. Non-positive retentionDays or interval fall
// back to the defaults (90 days, every 6 hours).
func NewCleaner(repo Repository, retentionDays int, interval time.Duration) *Cleaner {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if interval <= 0 {
		interval = defaultCleanInterval
	}
	return &Cleaner{
		repo:          repo,
		retentionDays: retentionDays,
		interval:      interval,
		now:           time.Now,
	}
}

// Start runs periodic cleanups in a background goroutine until ctx is
// cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
	slog.Info("usage retention cleaner started",
		"retention_days", c.retentionDays, "interval", c.interval)
}

func (c *Cleaner) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CleanupOnce(ctx); err != nil {
				slog.Warn("usage retention cleanup failed", "error", err)
			}
		}
	}
}

// CleanupOnce deletes expired events in batches until none remain or the
// per-run batch cap is hit, returning the total deleted.
func (c *Cleaner) CleanupOnce(ctx context.Context) (int64, error) {
	cutoff := c.now().AddDate(0, 0, -c.retentionDays)

	var total int64
	for i := 0; i < maxBatchesPerRun; i++ {
		deleted, err := c.repo.DeleteOlderThan(ctx, cutoff, deleteBatchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < deleteBatchSize {
			break
		}
	}

	if total > 0 {
		metrics.UsageEventsPurgedTotal.Add(float64(total))
		slog.Info("purged expired usage events", "count", total, "cutoff", cutoff)
	}
	return total, nil
}
