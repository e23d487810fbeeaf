package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"habitflow/contracts/mq"
	"habitflow/internal/api"
	"habitflow/internal/cache"
	"habitflow/internal/engine"
	"habitflow/internal/model"
	"habitflow/pkg/metrics"
	pkgmq "habitflow/pkg/mq"
)

// Backend is the REST-shaped remote the engine consumes. api.Client is the
// production implementation.
type Backend interface {
	GetGoalDetail(ctx context.Context, goalID string) (*model.GoalDetail, error)
	ListGoalsWithProgress(ctx context.Context) ([]model.GoalWithProgress, error)
	GetProgressOverview(ctx context.Context) (*model.Overview, error)
	GetHabit(ctx context.Context, habitID string) (*model.Habit, error)
	ListHabitEntries(ctx context.Context, habitID, start, end, tz string) ([]model.HabitEntry, error)
	CreateGoal(ctx context.Context, input api.CreateGoalInput) (*model.Goal, error)
	CreateManualLog(ctx context.Context, goalID string, value float64, note string, loggedAt time.Time) (*model.ManualLog, error)
	UpdateGoal(ctx context.Context, goalID string, patch api.GoalPatch) (*model.Goal, error)
	DeleteGoal(ctx context.Context, goalID string) error
}

// Service owns the goal read and write paths. Reads go cache-first with
// stale-while-revalidate; every mutation invalidates synchronously after
// the backend acknowledges and before returning, so a subsequent read can
// never observe pre-mutation cached data.
type Service struct {
	backend   Backend
	store     cache.Store
	adapter   *engine.Adapter
	machine   *engine.Machine
	publisher *pkgmq.Publisher
	logger    *zap.Logger
	clock     cache.Clock
	tz        *time.Location
	group     singleflight.Group
}

func New(backend Backend, store cache.Store, publisher *pkgmq.Publisher, sharedGuard *engine.SharedGuard, tz *time.Location, clock cache.Clock, logger *zap.Logger) *Service {
	if tz == nil {
		tz = time.Local
	}
	if clock == nil {
		clock = cache.SystemClock
	}

	s := &Service{
		backend:   backend,
		store:     store,
		publisher: publisher,
		logger:    logger,
		clock:     clock,
		tz:        tz,
	}
	s.adapter = engine.NewAdapter(backend, tz, logger)
	s.machine = engine.NewMachine(s, sharedGuard, s.publishMilestone, logger)
	return s
}

// Close releases per-session completion guards. Must be called on
// teardown so a mid-flight completion cannot leave a stuck lock behind.
func (s *Service) Close() {
	s.machine.Close()
}

// GoalDetail returns the goal with a freshly derived progress snapshot.
// Cache hit: return immediately and revalidate in the background. Cache
// miss: fetch and aggregate, feeding the completion state machine. If the
// backend is unreachable, a snapshot within the grace window is served
// marked Stale; stale data is display-only and never drives completion.
func (s *Service) GoalDetail(ctx context.Context, goalID string) (*model.GoalDetail, error) {
	key := cache.GoalDetailKey(goalID)

	if b, ok := s.store.Get(ctx, key); ok {
		var detail model.GoalDetail
		if err := json.Unmarshal(b, &detail); err == nil {
			s.revalidate(key, func(ctx context.Context) error {
				_, err := s.refreshGoalDetail(ctx, goalID)
				return err
			})
			return &detail, nil
		}
		s.store.Delete(ctx, key)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.refreshGoalDetail(ctx, goalID)
	})
	if err != nil {
		if !errors.Is(err, api.ErrNotFound) {
			if detail, ok := s.staleGoalDetail(ctx, key); ok {
				s.logger.Warn("Serving stale goal detail after fetch failure",
					zap.String("goal_id", goalID),
					zap.Error(err),
				)
				return detail, nil
			}
		}
		return nil, err
	}
	return v.(*model.GoalDetail), nil
}

// GoalsWithProgress returns the cached aggregate list. The list carries
// the backend's progress figures; per-goal recomputation happens on the
// detail path.
func (s *Service) GoalsWithProgress(ctx context.Context) ([]model.GoalWithProgress, error) {
	key := cache.GoalListKey()

	if b, ok := s.store.Get(ctx, key); ok {
		var goals []model.GoalWithProgress
		if err := json.Unmarshal(b, &goals); err == nil {
			s.revalidate(key, func(ctx context.Context) error {
				_, err := s.refreshGoalList(ctx)
				return err
			})
			return goals, nil
		}
		s.store.Delete(ctx, key)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.refreshGoalList(ctx)
	})
	if err != nil {
		if b, ok := s.store.GetStale(ctx, key); ok {
			var goals []model.GoalWithProgress
			if jerr := json.Unmarshal(b, &goals); jerr == nil {
				s.logger.Warn("Serving stale goal list after fetch failure", zap.Error(err))
				return goals, nil
			}
		}
		return nil, err
	}
	return v.([]model.GoalWithProgress), nil
}

// Overview returns today's cached summary across goals and habits.
func (s *Service) Overview(ctx context.Context) (*model.Overview, error) {
	key := cache.OverviewKey()

	if b, ok := s.store.Get(ctx, key); ok {
		var overview model.Overview
		if err := json.Unmarshal(b, &overview); err == nil {
			s.revalidate(key, func(ctx context.Context) error {
				_, err := s.refreshOverview(ctx)
				return err
			})
			return &overview, nil
		}
		s.store.Delete(ctx, key)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.refreshOverview(ctx)
	})
	if err != nil {
		if b, ok := s.store.GetStale(ctx, key); ok {
			var overview model.Overview
			if jerr := json.Unmarshal(b, &overview); jerr == nil {
				s.logger.Warn("Serving stale overview after fetch failure", zap.Error(err))
				return &overview, nil
			}
		}
		return nil, err
	}
	return v.(*model.Overview), nil
}

// CacheVersion exposes the invalidation counter; any change means cached
// reads may be stale and consumers should refetch.
func (s *Service) CacheVersion(ctx context.Context) int64 {
	return s.store.Version(ctx)
}

// RefreshAll recomputes every active goal's snapshot, driving completion
// detection. Per-goal failures are logged and skipped so one broken goal
// cannot stall the rest of the pass.
func (s *Service) RefreshAll(ctx context.Context) error {
	goals, err := s.refreshGoalList(ctx)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, g := range goals {
		if g.Goal.Completed() {
			continue
		}
		if _, err := s.refreshGoalDetail(ctx, g.Goal.ID); err != nil {
			s.logger.Warn("Goal refresh failed",
				zap.String("goal_id", g.Goal.ID),
				zap.Error(err),
			)
			continue
		}
		refreshed++
	}

	s.logger.Debug("Refresh pass complete",
		zap.Int("goals", len(goals)),
		zap.Int("refreshed", refreshed),
	)
	return nil
}

func (s *Service) refreshGoalDetail(ctx context.Context, goalID string) (*model.GoalDetail, error) {
	detail, err := s.backend.GetGoalDetail(ctx, goalID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	entries, err := s.adapter.CollectEntries(ctx, &detail.Goal, detail.ManualLogs)
	if err != nil {
		return nil, err
	}

	snap := engine.Compute(&detail.Goal, entries, s.clock.Now().In(s.tz))
	metrics.RecordAggregation(string(detail.Goal.Type), time.Since(started))
	detail.Progress = snap

	// Cache before the completion check: a successful transition
	// invalidates this key, and writing afterwards would resurrect the
	// pre-completion snapshot.
	if b, err := json.Marshal(detail); err == nil {
		s.store.Set(ctx, cache.GoalDetailKey(goalID), b)
	}

	s.machine.OnSnapshotUpdated(ctx, &detail.Goal, snap)
	return detail, nil
}

func (s *Service) refreshGoalList(ctx context.Context) ([]model.GoalWithProgress, error) {
	goals, err := s.backend.ListGoalsWithProgress(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(goals); err == nil {
		s.store.Set(ctx, cache.GoalListKey(), b)
	}
	return goals, nil
}

func (s *Service) refreshOverview(ctx context.Context) (*model.Overview, error) {
	overview, err := s.backend.GetProgressOverview(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(overview); err == nil {
		s.store.Set(ctx, cache.OverviewKey(), b)
	}
	return overview, nil
}

// revalidate refreshes a cached key in the background without blocking the
// caller. Concurrent revalidations of the same key collapse into one
// fetch.
func (s *Service) revalidate(key string, refresh func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err, _ := s.group.Do(key, func() (any, error) {
			return nil, refresh(ctx)
		}); err != nil {
			s.logger.Debug("Background revalidation failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) staleGoalDetail(ctx context.Context, key string) (*model.GoalDetail, bool) {
	b, ok := s.store.GetStale(ctx, key)
	if !ok {
		return nil, false
	}
	var detail model.GoalDetail
	if err := json.Unmarshal(b, &detail); err != nil {
		return nil, false
	}
	if detail.Progress != nil {
		detail.Progress.Stale = true
	}
	return &detail, true
}

// CompleteGoal implements engine.Completer. It asks the backend to set
// completedAt, trusts only the server's echo, and invalidates every cached
// view of the goal before returning.
func (s *Service) CompleteGoal(ctx context.Context, goal *model.Goal, snap *model.ProgressSnapshot) error {
	now := s.clock.Now()
	updated, err := s.backend.UpdateGoal(ctx, goal.ID, api.GoalPatch{CompletedAt: &now})
	if err != nil {
		return err
	}

	s.store.Delete(ctx, cache.GoalKeys(goal.ID)...)

	completedAt := now
	if updated.CompletedAt != nil {
		completedAt = *updated.CompletedAt
	}
	s.publishEvent(mq.RoutingKeyGoalCompleted, mq.GoalCompletedPayload{
		GoalID:      updated.ID,
		Title:       updated.Title,
		GoalType:    string(updated.Type),
		Percent:     snap.Percent,
		CompletedAt: completedAt,
	})
	return nil
}

func (s *Service) publishMilestone(goal *model.Goal, threshold, percent int) {
	s.publishEvent(mq.RoutingKeyGoalMilestoneReached, mq.GoalMilestoneReachedPayload{
		GoalID:    goal.ID,
		Title:     goal.Title,
		Threshold: threshold,
		Percent:   percent,
	})
}

func (s *Service) publishEvent(routingKey string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(routingKey, payload); err != nil {
		metrics.RecordEventPublished(routingKey, "failed")
		s.logger.Warn("Event publish failed",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return
	}
	metrics.RecordEventPublished(routingKey, "published")
}
