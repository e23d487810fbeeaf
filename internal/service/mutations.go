package service

import (
	"context"
	"time"

	"habitflow/contracts/mq"
	"habitflow/internal/api"
	"habitflow/internal/cache"
	"habitflow/internal/model"
)

// CreateGoal validates the input, creates the goal, and clears the whole
// cache: a new goal changes every aggregate view, so a global invalidation
// with a version bump is the cheapest correct move.
func (s *Service) CreateGoal(ctx context.Context, input api.CreateGoalInput) (*model.Goal, error) {
	if err := validateCreateGoal(input); err != nil {
		return nil, err
	}

	goal, err := s.backend.CreateGoal(ctx, input)
	if err != nil {
		return nil, err
	}

	s.store.Clear(ctx)
	return goal, nil
}

// LogProgress records a manual contribution against a goal. A non-positive
// value is rejected before any network call. The goal's cached detail and
// every aggregate embedding it are invalidated before returning.
func (s *Service) LogProgress(ctx context.Context, goalID string, value float64, note string, loggedAt time.Time) (*model.ManualLog, error) {
	if err := validateManualLogValue(value); err != nil {
		return nil, err
	}
	if loggedAt.IsZero() {
		loggedAt = s.clock.Now()
	}

	created, err := s.backend.CreateManualLog(ctx, goalID, value, note, loggedAt)
	if err != nil {
		return nil, err
	}

	s.store.Delete(ctx, cache.GoalKeys(goalID)...)
	return created, nil
}

func (s *Service) UpdateGoal(ctx context.Context, goalID string, patch api.GoalPatch) (*model.Goal, error) {
	if err := validateGoalPatch(patch); err != nil {
		return nil, err
	}

	updated, err := s.backend.UpdateGoal(ctx, goalID, patch)
	if err != nil {
		return nil, err
	}

	s.store.Delete(ctx, cache.GoalKeys(goalID)...)
	return updated, nil
}

func (s *Service) DeleteGoal(ctx context.Context, goalID string) error {
	if err := s.backend.DeleteGoal(ctx, goalID); err != nil {
		return err
	}

	s.store.Delete(ctx, cache.GoalKeys(goalID)...)
	s.machine.Forget(goalID)
	return nil
}

// MarkComplete is the explicit, user-initiated completion, the only path
// that completes a onetime goal. The server's echo is authoritative for
// the resulting completedAt.
func (s *Service) MarkComplete(ctx context.Context, goalID string) (*model.Goal, error) {
	now := s.clock.Now()
	updated, err := s.backend.UpdateGoal(ctx, goalID, api.GoalPatch{CompletedAt: &now})
	if err != nil {
		return nil, err
	}

	s.store.Delete(ctx, cache.GoalKeys(goalID)...)

	completedAt := now
	if updated.CompletedAt != nil {
		completedAt = *updated.CompletedAt
	}
	s.publishEvent(mq.RoutingKeyGoalCompleted, mq.GoalCompletedPayload{
		GoalID:      updated.ID,
		Title:       updated.Title,
		GoalType:    string(updated.Type),
		Percent:     100,
		CompletedAt: completedAt,
	})
	return updated, nil
}
