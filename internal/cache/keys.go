package cache

import "fmt"

func GoalDetailKey(goalID string) string {
	return fmt.Sprintf("goal:detail:%s", goalID)
}

func GoalListKey() string {
	return "goals:list"
}

func OverviewKey() string {
	return "progress:overview"
}

// GoalKeys returns every key that embeds the given goal: its own detail
// plus the aggregate views. Targeted invalidation must drop all of them or
// a list read could observe pre-mutation data.
func GoalKeys(goalID string) []string {
	return []string{
		GoalDetailKey(goalID),
		GoalListKey(),
		OverviewKey(),
	}
}
