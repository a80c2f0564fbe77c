package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/metrics"
	"github.com/steady-platform/steady/internal/period"
	"github.com/steady-platform/steady/internal/users"
)

// Directory is the user-lookup surface the enforcer needs.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// UsageSource aggregates recorded consumption inside a window. The usage
// log repository satisfies it.
type UsageSource interface {
	AggregateWindow(ctx context.Context, userID uuid.UUID, service string, from, to time.Time) (WindowUsage, error)
}

// Service evaluates role-default and custom quotas and manages quota
// records. Checks are read-only apart from lazy window resets; the
// check-then-record gap is a documented best-effort limit (increments are
// single atomic updates, so concurrent overshoot is bounded by in-flight
// requests).
type Service struct {
	repo    Repository
	dir     Directory
	usage   UsageSource
	sweeper *Sweeper
	cache   *CounterCache // optional
	limits  LimitTable
	now     func() time.Time
}

// NewService creates a quota Service. A nil limits table falls back to
// DefaultLimitTable; cache may be nil.
func NewService(repo Repository, dir Directory, usage UsageSource, sweeper *Sweeper, cache *CounterCache, limits LimitTable) *Service {
	if limits == nil {
		limits = DefaultLimitTable()
	}
	return &Service{
		repo:    repo,
		dir:     dir,
		usage:   usage,
		sweeper: sweeper,
		cache:   cache,
		limits:  limits,
		now:     time.Now,
	}
}

// Check evaluates a prospective consumption against role defaults and the
// user's custom quota records, in that order, short-circuiting on the first
// violation. A projected landing exactly on the limit is allowed; only
// strict overshoot denies.
func (s *Service) Check(ctx context.Context, userID uuid.UUID, service string, amounts ...Amount) (Decision, error) {
	user, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if user == nil {
		return s.denied("user not found", nil, ""), nil
	}
	if user.Status != users.StatusActive {
		return s.denied("account inactive", nil, ""), nil
	}
	if user.Tier == users.TierUnlimited {
		metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true, RemainingCalls: Unlimited, RemainingTokens: Unlimited}, nil
	}

	proj := projection(amounts)
	now := s.now()

	remaining := map[ResourceType]int64{ResourceCalls: Unlimited, ResourceTokens: Unlimited}
	tighten := func(resource ResourceType, limit, used int64) {
		if limit == Unlimited {
			return
		}
		head := limit - (used + proj[resource])
		if head < 0 {
			head = 0
		}
		if remaining[resource] == Unlimited || head < remaining[resource] {
			remaining[resource] = head
		}
	}

	// Role-default daily limits, aggregated from the usage log across all
	// services.
	tierLimits, ok := s.limits[user.Tier]
	if !ok {
		tierLimits = s.limits[users.TierFree]
	}
	dayStart := period.WindowStart(period.Daily, now)
	dayReset := period.NextReset(period.Daily, now)

	agg, err := s.usage.AggregateWindow(ctx, userID, "", dayStart, now)
	if err != nil {
		return Decision{}, fmt.Errorf("aggregating daily usage: %w", err)
	}

	roleChecks := []struct {
		resource ResourceType
		limit    int64
		used     int64
		label    string
	}{
		{ResourceCalls, tierLimits.DailyCalls, agg.Calls, "daily call limit"},
		{ResourceTokens, tierLimits.DailyTokens, agg.Tokens, "daily token limit"},
		{ResourceCost, tierLimits.DailyCostCents, agg.CostCents, "daily cost limit"},
	}
	for _, c := range roleChecks {
		if c.limit == Unlimited {
			continue
		}
		if c.used+proj[c.resource] > c.limit {
			reason := fmt.Sprintf("%s reached (%d of %d used)", c.label, c.used, c.limit)
			return s.denied(reason, &dayReset, c.resource), nil
		}
		tighten(c.resource, c.limit, c.used)
	}

	// Custom quota records scoped to this service (or unscoped), lazily
	// reset when their window has expired.
	recs, err := s.repo.ListActive(ctx, userID, service)
	if err != nil {
		return Decision{}, fmt.Errorf("loading quota records: %w", err)
	}
	for i := range recs {
		rec := &recs[i]
		if _, err := s.sweeper.ResetIfExpired(ctx, rec); err != nil {
			return Decision{}, err
		}
		if rec.Limit == Unlimited {
			continue
		}
		if rec.Used+proj[rec.Resource] > rec.Limit {
			resetAt := period.NextReset(rec.Period, rec.WindowAnchor)
			reason := fmt.Sprintf("%s quota of %d reached (%d used)", rec.Resource, rec.Limit, rec.Used)
			return s.denied(reason, &resetAt, rec.Resource), nil
		}
		tighten(rec.Resource, rec.Limit, rec.Used)
	}

	metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
	return Decision{
		Allowed:         true,
		RemainingCalls:  remaining[ResourceCalls],
		RemainingTokens: remaining[ResourceTokens],
	}, nil
}

func (s *Service) denied(reason string, resetAt *time.Time, resource ResourceType) Decision {
	metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
	if resource != "" {
		metrics.QuotaDenialsTotal.WithLabelValues(string(resource)).Inc()
	}
	return Decision{Allowed: false, Reason: reason, ResetAt: resetAt}
}

// CreateParams describes a custom quota record to create.
type CreateParams struct {
	Resource    ResourceType
	Service     string
	Limit       int64
	Period      period.Period
	Description string
}

// Create validates and stores a new custom quota record for the user,
// anchored at the start of the current window.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, params CreateParams) (*Record, error) {
	user, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, users.ErrNotFound
	}

	now := s.now()
	rec := &Record{
		ID:           uuid.New(),
		UserID:       userID,
		Resource:     params.Resource,
		Service:      params.Service,
		Limit:        params.Limit,
		Period:       params.Period,
		WindowAnchor: period.WindowStart(params.Period, now),
		Description:  params.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SeedDefaults materializes one daily quota record per resource type from
// the user's tier, as done at account creation.
func (s *Service) SeedDefaults(ctx context.Context, user *users.User) error {
	tierLimits, ok := s.limits[user.Tier]
	if !ok {
		tierLimits = s.limits[users.TierFree]
	}

	now := s.now()
	anchor := period.WindowStart(period.Daily, now)
	defaults := []struct {
		resource ResourceType
		limit    int64
	}{
		{ResourceCalls, tierLimits.DailyCalls},
		{ResourceTokens, tierLimits.DailyTokens},
		{ResourceCost, tierLimits.DailyCostCents},
	}

	for _, d := range defaults {
		rec := &Record{
			ID:           uuid.New(),
			UserID:       user.ID,
			Resource:     d.resource,
			Limit:        d.limit,
			Period:       period.Daily,
			WindowAnchor: anchor,
			Description:  fmt.Sprintf("%s tier default", user.Tier),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Create(ctx, rec); err != nil {
			return fmt.Errorf("seeding %s quota: %w", d.resource, err)
		}
	}
	return nil
}

// ListByUser returns the user's quota records after lazily resetting any
// expired windows.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	recs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if _, err := s.sweeper.ResetIfExpired(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Delete permanently removes a quota record.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// ResourceStatus reports one record's usage against its limit.
type ResourceStatus struct {
	Resource ResourceType `json:"resource"`
	Used     int64        `json:"used"`
	Limit    int64        `json:"limit"`
	ResetAt  time.Time    `json:"reset_at"`
}

// StatusReport is the per-user quota view for display surfaces.
type StatusReport struct {
	Tier   users.Tier       `json:"tier"`
	Daily  []ResourceStatus `json:"daily"`
	Custom []Record         `json:"custom"`
}

// Status returns the user's role-default usage for the current day plus
// their custom records. Cached counters, when present and larger than the
// stored value, are preferred so fresh increments show up immediately.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*StatusReport, error) {
	user, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, users.ErrNotFound
	}

	tierLimits, ok := s.limits[user.Tier]
	if !ok {
		tierLimits = s.limits[users.TierFree]
	}

	now := s.now()
	dayStart := period.WindowStart(period.Daily, now)
	dayReset := period.NextReset(period.Daily, now)

	agg, err := s.usage.AggregateWindow(ctx, userID, "", dayStart, now)
	if err != nil {
		return nil, fmt.Errorf("aggregating daily usage: %w", err)
	}

	report := &StatusReport{
		Tier: user.Tier,
		Daily: []ResourceStatus{
			{Resource: ResourceCalls, Used: agg.Calls, Limit: tierLimits.DailyCalls, ResetAt: dayReset},
			{Resource: ResourceTokens, Used: agg.Tokens, Limit: tierLimits.DailyTokens, ResetAt: dayReset},
			{Resource: ResourceCost, Used: agg.CostCents, Limit: tierLimits.DailyCostCents, ResetAt: dayReset},
		},
	}

	recs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		rec := &recs[i]
		if _, err := s.sweeper.ResetIfExpired(ctx, rec); err != nil {
			return nil, err
		}
		if s.cache != nil {
			cached, ok, err := s.cache.Get(ctx, rec.ID)
			if err != nil {
				slog.Warn("quota status: reading cached counter", "error", err, "record_id", rec.ID)
			} else if ok && cached > rec.Used {
				rec.Used = cached
			}
		}
	}
	report.Custom = recs
	return report, nil
}
