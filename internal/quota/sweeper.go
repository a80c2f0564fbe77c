package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steady-platform/steady/internal/metrics"
	inats "github.com/steady-platform/steady/internal/nats"
	"github.com/steady-platform/steady/internal/period"
)

// ResetPublisher publishes window reset events; *nats.Publisher satisfies it.
type ResetPublisher interface {
	PublishQuotaReset(ctx context.Context, event inats.QuotaResetEvent) error
}

// Sweeper resets quota records whose window has expired. The same reset
// primitive serves both the lazy path (during a check) and the batch sweep,
// so the two can never drift apart.
type Sweeper struct {
	repo  Repository
	cache *CounterCache  // optional
	pub   ResetPublisher // optional
	now   func() time.Time
}

// NewSweeper creates a Sweeper. cache and pub may be nil.
func NewSweeper(repo Repository, cache *CounterCache, pub ResetPublisher) *Sweeper {
	return &Sweeper{repo: repo, cache: cache, pub: pub, now: time.Now}
}

// ResetIfExpired zeroes rec's counter and advances its window anchor when
// the current window has ended. The anchor lands on the start of the window
// containing "now", so a record expired for several windows settles in one
// pass and repeated calls are no-ops. rec is updated in place on reset.
func (s *Sweeper) ResetIfExpired(ctx context.Context, rec *Record) (bool, error) {
	now := s.now()
	if now.Before(period.NextReset(rec.Period, rec.WindowAnchor)) {
		return false, nil
	}

	anchor := period.WindowStart(rec.Period, now)
	if err := s.repo.ResetWindow(ctx, rec.ID, anchor); err != nil {
		return false, fmt.Errorf("resetting quota %s: %w", rec.ID, err)
	}
	rec.Used = 0
	rec.WindowAnchor = anchor
	metrics.QuotaResetsTotal.Inc()

	if s.cache != nil {
		if err := s.cache.Clear(ctx, rec.ID); err != nil {
			slog.Warn("quota sweeper: clearing cached counter", "error", err, "record_id", rec.ID)
		}
	}
	if s.pub != nil {
		event := inats.QuotaResetEvent{
			RecordID:     rec.ID,
			UserID:       rec.UserID,
			Resource:     string(rec.Resource),
			Period:       string(rec.Period),
			WindowAnchor: anchor,
			Timestamp:    now,
		}
		if err := s.pub.PublishQuotaReset(ctx, event); err != nil {
			slog.Warn("quota sweeper: publishing reset event", "error", err, "record_id", rec.ID)
		}
	}

	return true, nil
}

// SweepAll applies ResetIfExpired to every quota record. A failing record
// does not abort the sweep; its error is joined into the returned error
// alongside the count of records actually reset.
func (s *Sweeper) SweepAll(ctx context.Context) (int, error) {
	recs, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing quota records: %w", err)
	}

	resetCount := 0
	var errs []error
	for i := range recs {
		reset, err := s.ResetIfExpired(ctx, &recs[i])
		if err != nil {
			metrics.SweepErrorsTotal.Inc()
			errs = append(errs, err)
			continue
		}
		if reset {
			resetCount++
		}
	}
	return resetCount, errors.Join(errs...)
}

// Start runs periodic sweeps in a background goroutine until ctx is
// cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	go s.run(ctx, interval)
	slog.Info("quota sweeper started", "interval", interval)
}

func (s *Sweeper) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.SweepAll(ctx)
			if err != nil {
				slog.Warn("quota sweep finished with errors", "reset_count", count, "error", err)
				continue
			}
			if count > 0 {
				slog.Info("quota sweep reset expired windows", "reset_count", count)
			}
		}
	}
}
