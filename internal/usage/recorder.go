package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/metrics"
	inats "github.com/steady-platform/steady/internal/nats"
	"github.com/steady-platform/steady/internal/quota"
)

// EventPublisher publishes recorded-usage events; *nats.Publisher satisfies it.
type EventPublisher interface {
	PublishUsageRecorded(ctx context.Context, event inats.UsageRecordedEvent) error
}

// Recorder appends usage events and keeps quota counters in step with them.
// The append is the authoritative write; counter bumps and event publication
// are best effort and never fail a record.
type Recorder struct {
	repo    Repository
	quotas  quota.Repository
	sweeper *quota.Sweeper
	cache   *quota.CounterCache // optional
	pub     EventPublisher      // optional
	now     func() time.Time
}

// NewRecorder creates a Recorder. cache and pub may be nil.
func NewRecorder(repo Repository, quotas quota.Repository, sweeper *quota.Sweeper, cache *quota.CounterCache, pub EventPublisher) *Recorder {
	return &Recorder{
		repo:    repo,
		quotas:  quotas,
		sweeper: sweeper,
		cache:   cache,
		pub:     pub,
		now:     time.Now,
	}
}

// RecordParams describes one metered call to log.
type RecordParams struct {
	UserID      uuid.UUID
	Service     string
	Calls       int64
	Tokens      int64
	CostCents   int64
	Outcome     Outcome
	RequestedAt time.Time
}

// Record appends a usage event and, for successful outcomes, bumps every
// matching quota counter. Failed and denied calls are logged but consume
// nothing. A zero Calls defaults to one call; a zero RequestedAt defaults
// to now.
func (r *Recorder) Record(ctx context.Context, params RecordParams) (*Event, error) {
	now := r.now()

	event := &Event{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Service:     params.Service,
		Calls:       params.Calls,
		Tokens:      params.Tokens,
		CostCents:   params.CostCents,
		Outcome:     params.Outcome,
		RequestedAt: params.RequestedAt,
		CreatedAt:   now,
	}
	if event.Calls == 0 {
		event.Calls = 1
	}
	if event.RequestedAt.IsZero() {
		event.RequestedAt = now
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if err := r.repo.Insert(ctx, event); err != nil {
		return nil, err
	}
	metrics.UsageEventsTotal.WithLabelValues(string(event.Outcome)).Inc()

	if event.Outcome == OutcomeSuccess {
		if err := r.bumpQuotas(ctx, event); err != nil {
			slog.Warn("usage recorder: updating quota counters", "error", err, "event_id", event.ID)
		}
	}

	if r.pub != nil {
		pubEvent := inats.UsageRecordedEvent{
			EventID:   event.ID,
			UserID:    event.UserID,
			Service:   event.Service,
			Calls:     event.Calls,
			Tokens:    event.Tokens,
			CostCents: event.CostCents,
			Outcome:   string(event.Outcome),
			Timestamp: event.RequestedAt,
		}
		if err := r.pub.PublishUsageRecorded(ctx, pubEvent); err != nil {
			slog.Warn("usage recorder: publishing event", "error", err, "event_id", event.ID)
		}
	}

	return event, nil
}

// bumpQuotas applies the event's consumption to every quota record matching
// its user and service, lazily resetting expired windows first so a stale
// counter is never incremented.
func (r *Recorder) bumpQuotas(ctx context.Context, event *Event) error {
	recs, err := r.quotas.ListActive(ctx, event.UserID, event.Service)
	if err != nil {
		return fmt.Errorf("loading quota records: %w", err)
	}

	for i := range recs {
		rec := &recs[i]
		if _, err := r.sweeper.ResetIfExpired(ctx, rec); err != nil {
			return err
		}

		var delta int64
		switch rec.Resource {
		case quota.ResourceCalls:
			delta = event.Calls
		case quota.ResourceTokens:
			delta = event.Tokens
		case quota.ResourceCost:
			delta = event.CostCents
		}
		if delta == 0 {
			continue
		}

		if err := r.quotas.IncrementUsed(ctx, rec.ID, delta); err != nil {
			return fmt.Errorf("incrementing quota %s: %w", rec.ID, err)
		}
		rec.Used += delta
		if r.cache != nil {
			if err := r.cache.Add(ctx, rec, delta); err != nil {
				slog.Warn("usage recorder: caching counter", "error", err, "record_id", rec.ID)
			}
		}
	}
	return nil
}

// ListRecent returns the user's most recent events, newest first.
func (r *Recorder) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return r.repo.ListRecent(ctx, userID, limit)
}
