package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"habitflow/internal/model"
	"habitflow/pkg/metrics"
)

// Completer performs the external mark-completed operation. The
// implementation must wait for the server's acknowledgement and invalidate
// cached data for the goal before returning.
type Completer interface {
	CompleteGoal(ctx context.Context, goal *model.Goal, snap *model.ProgressSnapshot) error
}

// MilestoneFunc is notified the first time a session observes the goal
// crossing a sub-100 milestone threshold.
type MilestoneFunc func(goal *model.Goal, threshold, percent int)

type goalGuard struct {
	lastObservedPercent int
	observed            bool
	inFlight            bool
	milestonesSeen      map[int]bool
}

// Machine watches snapshot recomputations and drives the active→completed
// transition at most once per goal per session. completed is terminal;
// there is no transition back.
type Machine struct {
	mu          sync.Mutex
	guards      map[string]*goalGuard
	completer   Completer
	sharedGuard *SharedGuard
	onMilestone MilestoneFunc
	logger      *zap.Logger
}

func NewMachine(completer Completer, sharedGuard *SharedGuard, onMilestone MilestoneFunc, logger *zap.Logger) *Machine {
	return &Machine{
		guards:      make(map[string]*goalGuard),
		completer:   completer,
		sharedGuard: sharedGuard,
		onMilestone: onMilestone,
		logger:      logger,
	}
}

// OnSnapshotUpdated evaluates the completion conditions against a freshly
// recomputed snapshot. The transition fires only when all hold:
//
//  1. the new percent is >= 100,
//  2. completedAt is still null,
//  3. the previously observed percent for this goal was < 100 (or the
//     goal was unobserved this session), and
//  4. no completion request for this goal is already in flight.
//
// Snapshots marked stale come from the display-only cache fallback and are
// never allowed to trigger anything.
func (m *Machine) OnSnapshotUpdated(ctx context.Context, goal *model.Goal, snap *model.ProgressSnapshot) {
	if snap == nil || snap.Stale {
		return
	}

	m.mu.Lock()
	guard := m.guards[goal.ID]
	if guard == nil {
		guard = &goalGuard{milestonesSeen: make(map[int]bool)}
		m.guards[goal.ID] = guard
	}

	prev := guard.lastObservedPercent
	prevObserved := guard.observed
	guard.lastObservedPercent = snap.Percent
	guard.observed = true

	milestones := m.crossedMilestones(guard, prev, prevObserved, snap.Percent)

	fire := snap.Percent >= 100 &&
		!goal.Completed() &&
		(!prevObserved || prev < 100) &&
		!guard.inFlight

	if fire {
		guard.inFlight = true
	}
	m.mu.Unlock()

	for _, threshold := range milestones {
		if m.onMilestone != nil {
			m.onMilestone(goal, threshold, snap.Percent)
		}
	}

	if !fire {
		return
	}

	if !m.sharedGuard.Acquire(ctx, goal.ID) {
		metrics.RecordCompletionAttempt("suppressed")
		m.clearInFlight(goal.ID)
		return
	}

	err := m.completer.CompleteGoal(ctx, goal, snap)
	if err != nil {
		// Not retried here: the guard rolls back to its pre-attempt
		// observation so the next natural recomputation re-evaluates the
		// same four conditions and may try again.
		metrics.RecordCompletionAttempt("failed")
		m.logger.Error("Goal completion failed",
			zap.String("goal_id", goal.ID),
			zap.Int("percent", snap.Percent),
			zap.Error(err),
		)
		m.sharedGuard.Release(ctx, goal.ID)
		m.rollback(goal.ID, prev, prevObserved)
		return
	}

	metrics.RecordCompletionAttempt("success")
	m.logger.Info("Goal completed",
		zap.String("goal_id", goal.ID),
		zap.Int("percent", snap.Percent),
	)
	m.clearInFlight(goal.ID)
}

// crossedMilestones must be called with the lock held.
func (m *Machine) crossedMilestones(guard *goalGuard, prev int, prevObserved bool, percent int) []int {
	var crossed []int
	for _, threshold := range model.MilestoneThresholds {
		if threshold >= 100 {
			continue // 100 is the completion transition, not a milestone event
		}
		if percent < threshold || guard.milestonesSeen[threshold] {
			continue
		}
		guard.milestonesSeen[threshold] = true
		if !prevObserved || prev >= threshold {
			// First observation is a baseline, not a crossing.
			continue
		}
		crossed = append(crossed, threshold)
	}
	return crossed
}

// rollback restores the pre-attempt observation after a failed completion
// call and frees the in-flight lock.
func (m *Machine) rollback(goalID string, prev int, prevObserved bool) {
	m.mu.Lock()
	if guard := m.guards[goalID]; guard != nil {
		guard.lastObservedPercent = prev
		guard.observed = prevObserved
		guard.inFlight = false
	}
	m.mu.Unlock()
}

func (m *Machine) clearInFlight(goalID string) {
	m.mu.Lock()
	if guard := m.guards[goalID]; guard != nil {
		guard.inFlight = false
	}
	m.mu.Unlock()
}

// Forget drops all per-session state for a goal, e.g. after it is deleted.
func (m *Machine) Forget(goalID string) {
	m.mu.Lock()
	delete(m.guards, goalID)
	m.mu.Unlock()
}

// Close clears every in-flight lock so a torn-down instance cannot leave a
// permanently stuck guard behind.
func (m *Machine) Close() {
	m.mu.Lock()
	for _, guard := range m.guards {
		guard.inFlight = false
	}
	m.mu.Unlock()
}
