package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steady-platform/steady/internal/period"
	"github.com/steady-platform/steady/internal/users"
)

type fakeRepo struct {
	mu       sync.Mutex
	recs     map[uuid.UUID]*Record
	resetErr map[uuid.UUID]error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recs: make(map[uuid.UUID]*Record)}
}

func (f *fakeRepo) Create(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs[rec.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.recs {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActive(_ context.Context, userID uuid.UUID, service string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.recs {
		if rec.UserID == userID && (rec.Service == "" || rec.Service == service) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAll(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.recs {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeRepo) ResetWindow(_ context.Context, id uuid.UUID, anchor time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resetErr[id]; err != nil {
		return err
	}
	rec, ok := f.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Used = 0
	rec.WindowAnchor = anchor
	return nil
}

func (f *fakeRepo) IncrementUsed(_ context.Context, id uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Used += delta
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recs[id]; !ok {
		return ErrNotFound
	}
	delete(f.recs, id)
	return nil
}

type fakeDirectory struct {
	users map[uuid.UUID]*users.User
}

func (f *fakeDirectory) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	return f.users[id], nil
}

type fakeUsage struct {
	agg WindowUsage
}

func (f *fakeUsage) AggregateWindow(context.Context, uuid.UUID, string, time.Time, time.Time) (WindowUsage, error) {
	return f.agg, nil
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	repo  *fakeRepo
	dir   *fakeDirectory
	usage *fakeUsage
	svc   *Service
	user  *users.User
}

func newTestEnv(t *testing.T, tier users.Tier) *testEnv {
	t.Helper()

	user := &users.User{
		ID:     uuid.New(),
		Email:  "test@example.com",
		Status: users.StatusActive,
		Tier:   tier,
	}

	repo := newFakeRepo()
	dir := &fakeDirectory{users: map[uuid.UUID]*users.User{user.ID: user}}
	usage := &fakeUsage{}

	sweeper := NewSweeper(repo, nil, nil)
	sweeper.now = func() time.Time { return testNow }

	limits := LimitTable{
		users.TierFree:      {DailyCalls: 100, DailyTokens: 10_000, DailyCostCents: 500},
		users.TierPro:       {DailyCalls: 1_000, DailyTokens: 100_000, DailyCostCents: 5_000},
		users.TierUnlimited: {DailyCalls: Unlimited, DailyTokens: Unlimited, DailyCostCents: Unlimited},
	}

	svc := NewService(repo, dir, usage, sweeper, nil, limits)
	svc.now = func() time.Time { return testNow }

	return &testEnv{repo: repo, dir: dir, usage: usage, svc: svc, user: user}
}

func TestCheck_AllowsWithinRoleDefaults(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{Calls: 50}

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(49), d.RemainingCalls)
}

func TestCheck_ExactLimitLandingAllowed(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{Calls: 99}

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "request landing exactly on the limit is allowed")
	assert.Equal(t, int64(0), d.RemainingCalls)
}

func TestCheck_DeniesCallOvershoot(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{Calls: 100}

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily call limit")
	require.NotNil(t, d.ResetAt)
	assert.Equal(t, period.NextReset(period.Daily, testNow), *d.ResetAt)
}

func TestCheck_DeniesTokenOvershoot(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{Tokens: 9_500}

	d, err := env.svc.Check(context.Background(), env.user.ID, "", Tokens(1_000))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily token limit")
}

func TestCheck_DeniesCostOvershoot(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{CostCents: 499}

	d, err := env.svc.Check(context.Background(), env.user.ID, "", Cost(2))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily cost limit")
}

func TestCheck_UnknownUserDenied(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	d, err := env.svc.Check(context.Background(), uuid.New(), "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "user not found", d.Reason)
}

func TestCheck_InactiveUserDenied(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.user.Status = users.StatusSuspended

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "account inactive", d.Reason)
}

func TestCheck_UnlimitedTierSkipsEverything(t *testing.T) {
	env := newTestEnv(t, users.TierUnlimited)
	env.usage.agg = WindowUsage{Calls: 1_000_000}

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, Unlimited, d.RemainingCalls)
	assert.Equal(t, Unlimited, d.RemainingTokens)
}

func TestCheck_CustomRecordDenied(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        10,
		Used:         10,
		Period:       period.Weekly,
		WindowAnchor: period.WindowStart(period.Weekly, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "calls quota of 10 reached")
	require.NotNil(t, d.ResetAt)
	assert.Equal(t, period.NextReset(period.Weekly, testNow), *d.ResetAt)
}

func TestCheck_UnlimitedRecordSkipped(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        Unlimited,
		Used:         1_000_000,
		Period:       period.Monthly,
		WindowAnchor: period.WindowStart(period.Monthly, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_ZeroLimitDeniesEverything(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	// A zero limit cannot be created through the service, but an operator
	// can set one directly to shut a user off.
	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        0,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCheck_ServiceScoping(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Service:      "svc-a",
		Limit:        5,
		Used:         5,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	d, err := env.svc.Check(context.Background(), env.user.ID, "svc-b")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "record scoped to svc-a must not affect svc-b")

	d, err = env.svc.Check(context.Background(), env.user.ID, "svc-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCheck_LazyResetOfExpiredWindow(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	// Exhausted quota anchored two days back: its window is long over, so
	// the check must reset it and allow the request.
	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        10,
		Used:         10,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, testNow.AddDate(0, 0, -2)),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	stored, err := env.repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Used)
	assert.Equal(t, period.WindowStart(period.Daily, testNow), stored.WindowAnchor)
}

func TestCheck_RemainingIsTightestBound(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{Calls: 10}

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        20,
		Used:         15,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	d, err := env.svc.Check(context.Background(), env.user.ID, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	// Custom record leaves 20-(15+1)=4, role default leaves 89; report 4.
	assert.Equal(t, int64(4), d.RemainingCalls)
}

func TestCreate_RejectsInvalidLimit(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	_, err := env.svc.Create(context.Background(), env.user.ID, CreateParams{
		Resource: ResourceCalls,
		Limit:    0,
		Period:   period.Daily,
	})
	require.Error(t, err)
}

func TestCreate_AnchorsCurrentWindow(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	rec, err := env.svc.Create(context.Background(), env.user.ID, CreateParams{
		Resource: ResourceTokens,
		Limit:    5_000,
		Period:   period.Monthly,
	})
	require.NoError(t, err)
	assert.Equal(t, period.WindowStart(period.Monthly, testNow), rec.WindowAnchor)
	assert.Equal(t, int64(0), rec.Used)
}

func TestSeedDefaults_CreatesOneRecordPerResource(t *testing.T) {
	env := newTestEnv(t, users.TierFree)

	require.NoError(t, env.svc.SeedDefaults(context.Background(), env.user))

	recs, err := env.repo.ListByUser(context.Background(), env.user.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byResource := map[ResourceType]Record{}
	for _, rec := range recs {
		byResource[rec.Resource] = rec
		assert.Equal(t, period.Daily, rec.Period)
	}
	assert.Equal(t, int64(100), byResource[ResourceCalls].Limit)
	assert.Equal(t, int64(10_000), byResource[ResourceTokens].Limit)
	assert.Equal(t, int64(500), byResource[ResourceCost].Limit)
}

func TestStatus_ReportsDailyAndCustom(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	env.usage.agg = WindowUsage{Calls: 42, Tokens: 1_000, CostCents: 50}

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        500,
		Used:         7,
		Period:       period.Weekly,
		WindowAnchor: period.WindowStart(period.Weekly, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))

	report, err := env.svc.Status(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, users.TierFree, report.Tier)
	require.Len(t, report.Daily, 3)
	assert.Equal(t, int64(42), report.Daily[0].Used)
	require.Len(t, report.Custom, 1)
	assert.Equal(t, int64(7), report.Custom[0].Used)
}

func TestStatus_CacheOverlayPrefersLargerCounter(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	rdb := setupMiniredis(t)
	env.svc.cache = NewCounterCache(rdb)

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        100,
		Used:         3,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))
	require.NoError(t, rdb.Set(context.Background(), counterKeyPrefix+rec.ID.String(), 9, 0).Err())

	report, err := env.svc.Status(context.Background(), env.user.ID)
	require.NoError(t, err)
	require.Len(t, report.Custom, 1)
	assert.Equal(t, int64(9), report.Custom[0].Used, "fresher cached counter wins")
}

func TestStatus_CacheFailureTolerated(t *testing.T) {
	env := newTestEnv(t, users.TierFree)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	env.svc.cache = NewCounterCache(rdb)

	rec := &Record{
		ID:           uuid.New(),
		UserID:       env.user.ID,
		Resource:     ResourceCalls,
		Limit:        100,
		Used:         3,
		Period:       period.Daily,
		WindowAnchor: period.WindowStart(period.Daily, testNow),
	}
	require.NoError(t, env.repo.Create(context.Background(), rec))
	mr.Close()

	report, err := env.svc.Status(context.Background(), env.user.ID)
	require.NoError(t, err, "a dead cache must not fail the status read")
	require.Len(t, report.Custom, 1)
	assert.Equal(t, int64(3), report.Custom[0].Used, "stored counter is the fallback")
}
