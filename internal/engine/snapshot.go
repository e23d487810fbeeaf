package engine

import (
	"math"
	"time"

	"habitflow/internal/model"
)

const inactivityAge = 7 * 24 * time.Hour

// Compute builds the full progress snapshot for a goal from its normalized
// entry list. now anchors "today" for the seven-day series and the
// inactivity check.
func Compute(goal *model.Goal, entries []model.NormalizedEntry, now time.Time) *model.ProgressSnapshot {
	currentValue := Aggregate(goal, entries)
	percent := percentOf(goal, currentValue)

	snap := &model.ProgressSnapshot{
		GoalID:        goal.ID,
		CurrentValue:  currentValue,
		TargetValue:   goal.TargetValue,
		Percent:       percent,
		LastSevenDays: lastSevenDays(entries, now),
		Milestones:    milestones(goal, percent),
		Completed:     goal.Completed(),
		ComputedAt:    now,
	}

	snap.InactivityWarning = inactivityWarning(goal, snap.LastSevenDays, now)
	return snap
}

// percentOf clamps to [0, 100]. A zero or missing target never divides:
// it reads as 0%.
func percentOf(goal *model.Goal, currentValue float64) int {
	if goal.Type == model.GoalOnetime {
		if goal.Completed() {
			return 100
		}
		return 0
	}

	if goal.TargetValue <= 0 {
		return 0
	}

	percent := int(math.Round(currentValue / goal.TargetValue * 100))
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// lastSevenDays is most-recent-first: index 0 is today.
func lastSevenDays(entries []model.NormalizedEntry, now time.Time) []model.DayProgress {
	sums := make(map[string]float64, len(entries))
	for _, e := range entries {
		sums[e.Date] += e.Value
	}

	days := make([]model.DayProgress, 7)
	for i := 0; i < 7; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		sum := sums[date]
		days[i] = model.DayProgress{
			Date:        date,
			Value:       sum,
			HasProgress: sum > 0,
		}
	}
	return days
}

func milestones(goal *model.Goal, percent int) []model.Milestone {
	reached := func(threshold int) bool {
		// A completed goal is complete by definition, even if a late data
		// correction would show less than 100%.
		if threshold == 100 && goal.Completed() {
			return true
		}
		if goal.Type != model.GoalOnetime && goal.TargetValue <= 0 {
			return false
		}
		return percent >= threshold
	}

	ms := make([]model.Milestone, 0, len(model.MilestoneThresholds))
	for _, threshold := range model.MilestoneThresholds {
		ms = append(ms, model.Milestone{
			Threshold: threshold,
			Reached:   reached(threshold),
		})
	}
	return ms
}

// inactivityWarning: nothing logged in seven days, goal still active, and
// the goal is old enough that silence means something.
func inactivityWarning(goal *model.Goal, days []model.DayProgress, now time.Time) bool {
	if goal.Completed() {
		return false
	}
	if now.Sub(goal.CreatedAt) <= inactivityAge {
		return false
	}
	for _, d := range days {
		if d.HasProgress {
			return false
		}
	}
	return true
}
