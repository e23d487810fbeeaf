package model

import "time"

type EntrySource string

const (
	SourceManual EntrySource = "manual"
	SourceHabit  EntrySource = "habit"
)

// NormalizedEntry is the single shape manual logs and habit entries are
// reduced to before aggregation. Produced fresh on every aggregation pass,
// never persisted or cached standalone.
type NormalizedEntry struct {
	Date      string
	Value     float64
	Source    EntrySource
	Unit      string
	HabitType HabitType
}

type DayProgress struct {
	Date        string  `json:"date"`
	Value       float64 `json:"value"`
	HasProgress bool    `json:"has_progress"`
}

// MilestoneThresholds are the fixed percent marks a goal can reach.
var MilestoneThresholds = []int{25, 50, 75, 100}

type Milestone struct {
	Threshold int  `json:"threshold"`
	Reached   bool `json:"reached"`
}

// ProgressSnapshot is derived per aggregation pass and recomputed, not
// persisted. LastSevenDays is most-recent-first: index 0 is today.
type ProgressSnapshot struct {
	GoalID            string        `json:"goal_id"`
	CurrentValue      float64       `json:"current_value"`
	TargetValue       float64       `json:"target_value"`
	Percent           int           `json:"percent"`
	LastSevenDays     []DayProgress `json:"last_seven_days"`
	Milestones        []Milestone   `json:"milestones"`
	InactivityWarning bool          `json:"inactivity_warning"`
	Completed         bool          `json:"completed"`
	Stale             bool          `json:"stale,omitempty"`
	ComputedAt        time.Time     `json:"computed_at"`
}

type GoalDetail struct {
	Goal       Goal              `json:"goal"`
	Progress   *ProgressSnapshot `json:"progress,omitempty"`
	ManualLogs []ManualLog       `json:"manual_logs"`
}

type GoalWithProgress struct {
	Goal     Goal              `json:"goal"`
	Progress *ProgressSnapshot `json:"progress,omitempty"`
}

type Overview struct {
	Date           string `json:"date"`
	ActiveGoals    int    `json:"active_goals"`
	CompletedGoals int    `json:"completed_goals"`
	HabitsLogged   int    `json:"habits_logged"`
	GoalsWithEntry int    `json:"goals_with_entry"`
}
