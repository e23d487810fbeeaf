package model

import "time"

type GoalType string

const (
	GoalCumulative GoalType = "cumulative"
	GoalFrequency  GoalType = "frequency"
	GoalOnetime    GoalType = "onetime"
)

type Goal struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Type           GoalType   `json:"type"`
	TargetValue    float64    `json:"target_value"`
	Unit           string     `json:"unit"`
	LinkedHabitIDs []string   `json:"linked_habit_ids"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Completed reports whether the goal has crossed into its terminal state.
// CompletedAt is monotonic: once set it is never cleared by this engine.
func (g *Goal) Completed() bool {
	return g.CompletedAt != nil
}

type ManualLog struct {
	ID       string    `json:"id"`
	GoalID   string    `json:"goal_id"`
	Value    float64   `json:"value"`
	Note     string    `json:"note,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}
