package mq

import "time"

const (
	RoutingKeyGoalCompleted        = "goal.completed"
	RoutingKeyGoalMilestoneReached = "goal.milestone_reached"
)

type GoalCompletedPayload struct {
	GoalID      string    `json:"goal_id"`
	Title       string    `json:"title"`
	GoalType    string    `json:"goal_type"`
	Percent     int       `json:"percent"`
	CompletedAt time.Time `json:"completed_at"`
}

type GoalMilestoneReachedPayload struct {
	GoalID    string `json:"goal_id"`
	Title     string `json:"title"`
	Threshold int    `json:"threshold"` // 25 / 50 / 75
	Percent   int    `json:"percent"`
}
