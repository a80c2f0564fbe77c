package usage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steady-platform/steady/internal/period"
	"github.com/steady-platform/steady/internal/quota"
)

type fakeEventRepo struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEventRepo) Insert(_ context.Context, event *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEventRepo) AggregateWindow(_ context.Context, userID uuid.UUID, service string, from, to time.Time) (quota.WindowUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var agg quota.WindowUsage
	for _, e := range f.events {
		if e.UserID != userID || e.Outcome != OutcomeSuccess {
			continue
		}
		if service != "" && e.Service != service {
			continue
		}
		if e.RequestedAt.Before(from) || e.RequestedAt.After(to) {
			continue
		}
		agg.Calls += e.Calls
		agg.Tokens += e.Tokens
		agg.CostCents += e.CostCents
	}
	return agg, nil
}

func (f *fakeEventRepo) ListRecent(_ context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEventRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []Event
	var deleted int64
	for _, e := range f.events {
		if e.RequestedAt.Before(cutoff) && deleted < int64(limit) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.events = kept
	return deleted, nil
}

// fakeQuotaRepo is a minimal in-memory quota store for recorder tests.
type fakeQuotaRepo struct {
	mu      sync.Mutex
	recs    map[uuid.UUID]*quota.Record
	incErr  error
	listErr error
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{recs: make(map[uuid.UUID]*quota.Record)}
}

func (f *fakeQuotaRepo) Create(_ context.Context, rec *quota.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs[rec.ID] = &cp
	return nil
}

func (f *fakeQuotaRepo) GetByID(_ context.Context, id uuid.UUID) (*quota.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeQuotaRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]quota.Record, error) {
	return f.ListActive(context.Background(), userID, "")
}

func (f *fakeQuotaRepo) ListActive(_ context.Context, userID uuid.UUID, service string) ([]quota.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []quota.Record
	for _, rec := range f.recs {
		if rec.UserID == userID && (rec.Service == "" || rec.Service == service) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeQuotaRepo) ListAll(_ context.Context) ([]quota.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []quota.Record
	for _, rec := range f.recs {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeQuotaRepo) ResetWindow(_ context.Context, id uuid.UUID, anchor time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return quota.ErrNotFound
	}
	rec.Used = 0
	rec.WindowAnchor = anchor
	return nil
}

func (f *fakeQuotaRepo) IncrementUsed(_ context.Context, id uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incErr != nil {
		return f.incErr
	}
	rec, ok := f.recs[id]
	if !ok {
		return quota.ErrNotFound
	}
	rec.Used += delta
	return nil
}

func (f *fakeQuotaRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, id)
	return nil
}

func newTestRecorder(t *testing.T) (*Recorder, *fakeEventRepo, *fakeQuotaRepo) {
	t.Helper()
	events := &fakeEventRepo{}
	quotas := newFakeQuotaRepo()
	sweeper := quota.NewSweeper(quotas, nil, nil)
	return NewRecorder(events, quotas, sweeper, nil, nil), events, quotas
}

func addQuota(t *testing.T, quotas *fakeQuotaRepo, userID uuid.UUID, resource quota.ResourceType, service string) uuid.UUID {
	t.Helper()
	rec := &quota.Record{
		ID:           uuid.New(),
		UserID:       userID,
		Resource:     resource,
		Service:      service,
		Limit:        1_000,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, time.Now()),
	}
	require.NoError(t, quotas.Create(context.Background(), rec))
	return rec.ID
}

func TestRecord_AppendsAndBumpsCounters(t *testing.T) {
	recorder, events, quotas := newTestRecorder(t)
	userID := uuid.New()
	callsID := addQuota(t, quotas, userID, quota.ResourceCalls, "")
	tokensID := addQuota(t, quotas, userID, quota.ResourceTokens, "")

	event, err := recorder.Record(context.Background(), RecordParams{
		UserID:  userID,
		Tokens:  250,
		Outcome: OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), event.Calls, "calls default to 1")
	assert.False(t, event.RequestedAt.IsZero())
	require.Len(t, events.events, 1)

	calls, err := quotas.GetByID(context.Background(), callsID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Used)

	tokens, err := quotas.GetByID(context.Background(), tokensID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), tokens.Used)
}

func TestRecord_FailedCallConsumesNothing(t *testing.T) {
	recorder, events, quotas := newTestRecorder(t)
	userID := uuid.New()
	callsID := addQuota(t, quotas, userID, quota.ResourceCalls, "")

	for _, outcome := range []Outcome{OutcomeError, OutcomeTimeout, OutcomeQuotaExceeded} {
		_, err := recorder.Record(context.Background(), RecordParams{
			UserID:  userID,
			Outcome: outcome,
		})
		require.NoError(t, err)
	}

	assert.Len(t, events.events, 3, "every outcome is logged")
	rec, err := quotas.GetByID(context.Background(), callsID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Used, "only success consumes quota")
}

func TestRecord_ServiceScopedQuotaUntouched(t *testing.T) {
	recorder, _, quotas := newTestRecorder(t)
	userID := uuid.New()
	scopedID := addQuota(t, quotas, userID, quota.ResourceCalls, "svc-a")

	_, err := recorder.Record(context.Background(), RecordParams{
		UserID:  userID,
		Service: "svc-b",
		Outcome: OutcomeSuccess,
	})
	require.NoError(t, err)

	rec, err := quotas.GetByID(context.Background(), scopedID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Used)
}

func TestRecord_RejectsInvalidOutcome(t *testing.T) {
	recorder, events, _ := newTestRecorder(t)

	_, err := recorder.Record(context.Background(), RecordParams{
		UserID:  uuid.New(),
		Outcome: "partial",
	})
	require.Error(t, err)
	assert.Empty(t, events.events)
}

func TestRecord_RejectsNegativeAmounts(t *testing.T) {
	recorder, _, _ := newTestRecorder(t)

	_, err := recorder.Record(context.Background(), RecordParams{
		UserID:  uuid.New(),
		Tokens:  -5,
		Outcome: OutcomeSuccess,
	})
	require.Error(t, err)
}

func TestRecord_QuotaBumpFailureDoesNotFailAppend(t *testing.T) {
	recorder, events, quotas := newTestRecorder(t)
	userID := uuid.New()
	addQuota(t, quotas, userID, quota.ResourceCalls, "")
	quotas.incErr = errors.New("store down")

	event, err := recorder.Record(context.Background(), RecordParams{
		UserID:  userID,
		Outcome: OutcomeSuccess,
	})
	require.NoError(t, err, "the append is authoritative; counter drift is tolerated")
	require.NotNil(t, event)
	assert.Len(t, events.events, 1)
}

func TestAggregateWindow_FiltersOutcomeAndService(t *testing.T) {
	recorder, events, _ := newTestRecorder(t)
	userID := uuid.New()
	now := time.Now()

	for _, p := range []RecordParams{
		{UserID: userID, Service: "svc-a", Tokens: 100, Outcome: OutcomeSuccess},
		{UserID: userID, Service: "svc-b", Tokens: 200, Outcome: OutcomeSuccess},
		{UserID: userID, Service: "svc-a", Tokens: 400, Outcome: OutcomeError},
	} {
		_, err := recorder.Record(context.Background(), p)
		require.NoError(t, err)
	}

	agg, err := events.AggregateWindow(context.Background(), userID, "svc-a", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(100), agg.Tokens, "errors and other services excluded")

	agg, err = events.AggregateWindow(context.Background(), userID, "", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(300), agg.Tokens)
	assert.Equal(t, int64(2), agg.Calls)
}

func TestCleaner_DeletesInBatches(t *testing.T) {
	events := &fakeEventRepo{}
	userID := uuid.New()
	old := time.Now().AddDate(0, 0, -120)
	for i := 0; i < 12; i++ {
		events.events = append(events.events, Event{
			ID:          uuid.New(),
			UserID:      userID,
			Calls:       1,
			Outcome:     OutcomeSuccess,
			RequestedAt: old.Add(time.Duration(i) * time.Minute),
		})
	}
	events.events = append(events.events, Event{
		ID:          uuid.New(),
		UserID:      userID,
		Calls:       1,
		Outcome:     OutcomeSuccess,
		RequestedAt: time.Now(),
	})

	cleaner := NewCleaner(events, 90, time.Hour)

	total, err := cleaner.CleanupOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.Len(t, events.events, 1, "recent event survives retention")
}
