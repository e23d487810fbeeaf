package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitflow/internal/api"
	"habitflow/internal/cache"
	"habitflow/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu           sync.Mutex
	goal         *model.Goal
	logs         []model.ManualLog
	habits       map[string]*model.Habit
	habitEntries map[string][]model.HabitEntry

	detailErr error
	updateErr error

	detailCalls int
	logCalls    int
	updateCalls int
}

func (b *fakeBackend) GetGoalDetail(ctx context.Context, goalID string) (*model.GoalDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detailCalls++
	if b.detailErr != nil {
		return nil, b.detailErr
	}
	if b.goal == nil || b.goal.ID != goalID {
		return nil, api.ErrNotFound
	}
	goal := *b.goal
	logs := append([]model.ManualLog(nil), b.logs...)
	return &model.GoalDetail{Goal: goal, ManualLogs: logs}, nil
}

func (b *fakeBackend) ListGoalsWithProgress(ctx context.Context) ([]model.GoalWithProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.goal == nil {
		return nil, nil
	}
	return []model.GoalWithProgress{{Goal: *b.goal}}, nil
}

func (b *fakeBackend) GetProgressOverview(ctx context.Context) (*model.Overview, error) {
	return &model.Overview{Date: "2026-08-29"}, nil
}

func (b *fakeBackend) GetHabit(ctx context.Context, habitID string) (*model.Habit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.habits[habitID]
	if !ok {
		return nil, api.ErrNotFound
	}
	return h, nil
}

func (b *fakeBackend) ListHabitEntries(ctx context.Context, habitID, start, end, tz string) ([]model.HabitEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.habitEntries[habitID], nil
}

func (b *fakeBackend) CreateGoal(ctx context.Context, input api.CreateGoalInput) (*model.Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	goal := &model.Goal{
		ID:          "created",
		Title:       input.Title,
		Type:        input.Type,
		TargetValue: input.TargetValue,
		Unit:        input.Unit,
	}
	b.goal = goal
	g := *goal
	return &g, nil
}

func (b *fakeBackend) CreateManualLog(ctx context.Context, goalID string, value float64, note string, loggedAt time.Time) (*model.ManualLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logCalls++
	log := model.ManualLog{ID: "l-new", GoalID: goalID, Value: value, Note: note, LoggedAt: loggedAt}
	b.logs = append(b.logs, log)
	return &log, nil
}

func (b *fakeBackend) UpdateGoal(ctx context.Context, goalID string, patch api.GoalPatch) (*model.Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateCalls++
	if b.updateErr != nil {
		return nil, b.updateErr
	}
	if patch.CompletedAt != nil {
		completedAt := *patch.CompletedAt
		b.goal.CompletedAt = &completedAt
	}
	if patch.TargetValue != nil {
		b.goal.TargetValue = *patch.TargetValue
	}
	g := *b.goal
	return &g, nil
}

func (b *fakeBackend) DeleteGoal(ctx context.Context, goalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.goal = nil
	return nil
}

func (b *fakeBackend) counts() (detail, logs, updates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detailCalls, b.logCalls, b.updateCalls
}

var serviceNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func newTestService(backend *fakeBackend) (*Service, cache.Store, *fakeClock) {
	clock := &fakeClock{now: serviceNow}
	store := cache.NewMemoryStore(30*time.Second, 5*time.Minute, 32, clock)
	svc := New(backend, store, nil, nil, time.UTC, clock, zap.NewNop())
	return svc, store, clock
}

func TestGoalDetailCumulativeScenario(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{
			ID: "g1", Title: "Run far", Type: model.GoalCumulative,
			TargetValue: 100, Unit: "miles",
			CreatedAt: serviceNow.AddDate(0, 0, -20),
		},
		logs: []model.ManualLog{
			{ID: "l1", GoalID: "g1", Value: 40, LoggedAt: serviceNow.AddDate(0, 0, -2)},
			{ID: "l2", GoalID: "g1", Value: 65, LoggedAt: serviceNow.AddDate(0, 0, -1)},
		},
	}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	detail, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)
	require.NotNil(t, detail.Progress)
	assert.Equal(t, 105.0, detail.Progress.CurrentValue)
	assert.Equal(t, 100, detail.Progress.Percent)

	// Repeated reads must not re-trigger the completion side effect.
	_, err = svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)
	_, err = svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)

	_, _, updates := backend.counts()
	assert.Equal(t, 1, updates, "completion fires exactly once")

	backend.mu.Lock()
	assert.NotNil(t, backend.goal.CompletedAt)
	backend.mu.Unlock()
}

func TestGoalDetailFrequencyScenario(t *testing.T) {
	one := 1.0
	backend := &fakeBackend{
		goal: &model.Goal{
			ID: "g1", Type: model.GoalFrequency, TargetValue: 5,
			LinkedHabitIDs: []string{"h1"},
			CreatedAt:      serviceNow.AddDate(0, 0, -20),
		},
		habits: map[string]*model.Habit{
			"h1": {ID: "h1", Type: model.HabitNumber},
		},
		habitEntries: map[string][]model.HabitEntry{
			"h1": {
				{HabitID: "h1", Date: "2026-08-25", Value: &one},
				{HabitID: "h1", Date: "2026-08-26", Value: &one},
				{HabitID: "h1", Date: "2026-08-27", Value: &one},
				{HabitID: "h1", Date: "2026-08-27", Value: &one}, // same day twice
			},
		},
	}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	detail, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)
	require.NotNil(t, detail.Progress)
	assert.Equal(t, 3.0, detail.Progress.CurrentValue, "a day counts once no matter how many entries")
	assert.Equal(t, 60, detail.Progress.Percent)
}

func TestManualLogInvalidatesCache(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{
			ID: "g1", Type: model.GoalCumulative, TargetValue: 100,
			CreatedAt: serviceNow.AddDate(0, 0, -20),
		},
	}
	svc, store, _ := newTestService(backend)
	defer svc.Close()

	_, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)
	detailCalls, _, _ := backend.counts()
	require.Equal(t, 1, detailCalls)

	_, err = svc.LogProgress(context.Background(), "g1", 12, "", time.Time{})
	require.NoError(t, err)

	_, ok := store.Get(context.Background(), cache.GoalDetailKey("g1"))
	assert.False(t, ok, "mutation must invalidate before returning")

	detail, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)
	detailCalls, _, _ = backend.counts()
	assert.Equal(t, 2, detailCalls, "next read refetches")
	assert.Equal(t, 12.0, detail.Progress.CurrentValue)
}

func TestManualLogRejectedBeforeNetwork(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{ID: "g1", Type: model.GoalCumulative, TargetValue: 100, CreatedAt: serviceNow},
	}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	_, err := svc.LogProgress(context.Background(), "g1", 0, "", time.Time{})
	assert.Error(t, err)

	_, err = svc.LogProgress(context.Background(), "g1", -3, "", time.Time{})
	assert.Error(t, err)

	_, logCalls, _ := backend.counts()
	assert.Zero(t, logCalls, "invalid values never reach the backend")
}

func TestGoalDetailStaleFallback(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{
			ID: "g1", Type: model.GoalCumulative, TargetValue: 100,
			CreatedAt: serviceNow.AddDate(0, 0, -20),
		},
		logs: []model.ManualLog{
			{ID: "l1", GoalID: "g1", Value: 40, LoggedAt: serviceNow.AddDate(0, 0, -1)},
		},
	}
	svc, _, clock := newTestService(backend)
	defer svc.Close()

	_, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)

	clock.Advance(45 * time.Second) // past TTL, inside grace
	backend.mu.Lock()
	backend.detailErr = errors.New("backend unreachable")
	backend.mu.Unlock()

	detail, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err, "grace-window data keeps the display alive")
	require.NotNil(t, detail.Progress)
	assert.True(t, detail.Progress.Stale)

	_, _, updates := backend.counts()
	assert.Zero(t, updates, "stale snapshots never drive completion")
}

func TestGoalDetailNotFoundSurfaces(t *testing.T) {
	backend := &fakeBackend{}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	_, err := svc.GoalDetail(context.Background(), "missing")
	assert.True(t, errors.Is(err, api.ErrNotFound))
}

func TestRefreshAllCompletesOnce(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{
			ID: "g1", Type: model.GoalCumulative, TargetValue: 100,
			CreatedAt: serviceNow.AddDate(0, 0, -20),
		},
		logs: []model.ManualLog{
			{ID: "l1", GoalID: "g1", Value: 120, LoggedAt: serviceNow.AddDate(0, 0, -1)},
		},
	}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	require.NoError(t, svc.RefreshAll(context.Background()))
	require.NoError(t, svc.RefreshAll(context.Background()))
	require.NoError(t, svc.RefreshAll(context.Background()))

	_, _, updates := backend.counts()
	assert.Equal(t, 1, updates)
}

func TestCompletionFailureRetriedOnNextPass(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{
			ID: "g1", Type: model.GoalCumulative, TargetValue: 100,
			CreatedAt: serviceNow.AddDate(0, 0, -20),
		},
		logs: []model.ManualLog{
			{ID: "l1", GoalID: "g1", Value: 120, LoggedAt: serviceNow.AddDate(0, 0, -1)},
		},
		updateErr: errors.New("mark-completed failed"),
	}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	require.NoError(t, svc.RefreshAll(context.Background()))
	_, _, updates := backend.counts()
	require.Equal(t, 1, updates)

	backend.mu.Lock()
	backend.updateErr = nil
	backend.mu.Unlock()

	require.NoError(t, svc.RefreshAll(context.Background()))
	_, _, updates = backend.counts()
	assert.Equal(t, 2, updates, "next natural recomputation retries")

	backend.mu.Lock()
	assert.NotNil(t, backend.goal.CompletedAt)
	backend.mu.Unlock()
}

func TestDeleteGoalPurgesCache(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{ID: "g1", Type: model.GoalCumulative, TargetValue: 100, CreatedAt: serviceNow},
	}
	svc, store, _ := newTestService(backend)
	defer svc.Close()

	_, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGoal(context.Background(), "g1"))

	_, ok := store.Get(context.Background(), cache.GoalDetailKey("g1"))
	assert.False(t, ok)
	_, ok = store.Get(context.Background(), cache.GoalListKey())
	assert.False(t, ok)
}

func TestMarkCompleteOnetime(t *testing.T) {
	backend := &fakeBackend{
		goal: &model.Goal{ID: "g1", Type: model.GoalOnetime, CreatedAt: serviceNow.AddDate(0, 0, -5)},
	}
	svc, _, _ := newTestService(backend)
	defer svc.Close()

	updated, err := svc.MarkComplete(context.Background(), "g1")
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)

	detail, err := svc.GoalDetail(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 100, detail.Progress.Percent)
}

func TestCreateGoalValidation(t *testing.T) {
	backend := &fakeBackend{}
	svc, store, _ := newTestService(backend)
	defer svc.Close()

	_, err := svc.CreateGoal(context.Background(), api.CreateGoalInput{Type: model.GoalCumulative, TargetValue: 10})
	assert.Error(t, err, "title is required")

	_, err = svc.CreateGoal(context.Background(), api.CreateGoalInput{Title: "Read", Type: model.GoalCumulative})
	assert.Error(t, err, "cumulative goals need a positive target")

	_, err = svc.CreateGoal(context.Background(), api.CreateGoalInput{Title: "Ship it", Type: model.GoalOnetime})
	require.NoError(t, err, "onetime goals carry no target")

	v0 := store.Version(context.Background())
	_, err = svc.CreateGoal(context.Background(), api.CreateGoalInput{Title: "Run", Type: model.GoalCumulative, TargetValue: 100})
	require.NoError(t, err)
	assert.Greater(t, store.Version(context.Background()), v0, "create bumps the global version")
}
