package engine

import "habitflow/internal/model"

// Included decides whether a normalized entry participates in aggregation
// for the given goal type.
//
// Cumulative goals exclude entries sourced from boolean habits: a binary
// completion has no numeric magnitude compatible with a sum. Frequency
// goals include every entry; a boolean completion contributes 1 toward its
// day being active. Onetime goals are not value-based, but their entries
// are kept for the seven-day series.
func Included(goalType model.GoalType, e model.NormalizedEntry) bool {
	if goalType == model.GoalCumulative && e.Source == model.SourceHabit && e.HabitType == model.HabitBoolean {
		return false
	}
	return true
}

// Aggregate reduces an already-included entry list into the goal's running
// total.
//
//   - cumulative: sum of entry values. Order-independent, so concurrent
//     fetch ordering cannot corrupt the total.
//   - frequency: count of distinct days with at least one entry whose
//     value is positive. Multiple same-day entries count the day once.
//   - onetime: not value-based; completion is driven solely by the
//     explicit mark-complete action.
func Aggregate(goal *model.Goal, entries []model.NormalizedEntry) float64 {
	switch goal.Type {
	case model.GoalCumulative:
		total := 0.0
		for _, e := range entries {
			total += e.Value
		}
		return total

	case model.GoalFrequency:
		activeDays := make(map[string]struct{})
		for _, e := range entries {
			if e.Value > 0 {
				activeDays[e.Date] = struct{}{}
			}
		}
		return float64(len(activeDays))

	default:
		return 0
	}
}
