package model

import "time"

type HabitType string

const (
	HabitBoolean HabitType = "boolean"
	HabitNumber  HabitType = "number"
)

type Habit struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Type  HabitType `json:"type"`
	Unit  string    `json:"unit,omitempty"`
}

type HabitEntry struct {
	HabitID   string     `json:"habit_id"`
	Date      string     `json:"date,omitempty"`
	Value     *float64   `json:"value,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	HabitType HabitType  `json:"habit_type,omitempty"`
}

// DayKey resolves the canonical YYYY-MM-DD key for the entry: the explicit
// day key when present, otherwise the date portion of the timestamp.
// Returns "" when neither is available; such an entry cannot be attributed
// to a day and is dropped by the adapter.
func (e *HabitEntry) DayKey() string {
	if e.Date != "" {
		return e.Date
	}
	if e.Timestamp != nil {
		return e.Timestamp.Format("2006-01-02")
	}
	return ""
}
