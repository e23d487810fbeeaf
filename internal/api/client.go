package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"habitflow/internal/model"
	"habitflow/pkg/metrics"
)

// Client talks to the goal tracking backend. It never computes state the
// server owns: mutations return the canonical updated resource and callers
// must use the server's echo, not a local guess.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type GoalPatch struct {
	Title          *string    `json:"title,omitempty"`
	TargetValue    *float64   `json:"target_value,omitempty"`
	Unit           *string    `json:"unit,omitempty"`
	LinkedHabitIDs []string   `json:"linked_habit_ids,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type CreateGoalInput struct {
	Title          string         `json:"title"`
	Type           model.GoalType `json:"type"`
	TargetValue    float64        `json:"target_value,omitempty"`
	Unit           string         `json:"unit,omitempty"`
	LinkedHabitIDs []string       `json:"linked_habit_ids,omitempty"`
	Deadline       *time.Time     `json:"deadline,omitempty"`
}

type createManualLogInput struct {
	Value    float64   `json:"value"`
	Note     string    `json:"note,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

func (c *Client) GetGoalDetail(ctx context.Context, goalID string) (*model.GoalDetail, error) {
	var detail model.GoalDetail
	path := fmt.Sprintf("/goals/%s/detail", url.PathEscape(goalID))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &detail, "goal_detail"); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) ListGoalsWithProgress(ctx context.Context) ([]model.GoalWithProgress, error) {
	var goals []model.GoalWithProgress
	if err := c.do(ctx, http.MethodGet, "/goals-with-progress", nil, nil, &goals, "goals_with_progress"); err != nil {
		return nil, err
	}
	return goals, nil
}

func (c *Client) GetProgressOverview(ctx context.Context) (*model.Overview, error) {
	var overview model.Overview
	if err := c.do(ctx, http.MethodGet, "/progress/overview", nil, nil, &overview, "progress_overview"); err != nil {
		return nil, err
	}
	return &overview, nil
}

func (c *Client) GetHabit(ctx context.Context, habitID string) (*model.Habit, error) {
	var habit model.Habit
	path := fmt.Sprintf("/habits/%s", url.PathEscape(habitID))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &habit, "habit"); err != nil {
		return nil, err
	}
	return &habit, nil
}

// ListHabitEntries fetches entries for one habit between two day keys
// (inclusive). tz is the IANA timezone the backend should bucket days in.
func (c *Client) ListHabitEntries(ctx context.Context, habitID, start, end, tz string) ([]model.HabitEntry, error) {
	query := url.Values{}
	query.Set("start", start)
	query.Set("end", end)
	if tz != "" {
		query.Set("tz", tz)
	}

	var entries []model.HabitEntry
	path := fmt.Sprintf("/habits/%s/entries", url.PathEscape(habitID))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &entries, "habit_entries"); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) CreateGoal(ctx context.Context, input CreateGoalInput) (*model.Goal, error) {
	var goal model.Goal
	if err := c.do(ctx, http.MethodPost, "/goals", nil, input, &goal, "create_goal"); err != nil {
		return nil, err
	}
	return &goal, nil
}

func (c *Client) CreateManualLog(ctx context.Context, goalID string, value float64, note string, loggedAt time.Time) (*model.ManualLog, error) {
	input := createManualLogInput{
		Value:    value,
		Note:     note,
		LoggedAt: loggedAt,
	}

	var created model.ManualLog
	path := fmt.Sprintf("/goals/%s/manual-logs", url.PathEscape(goalID))
	if err := c.do(ctx, http.MethodPost, path, nil, input, &created, "create_manual_log"); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateGoal(ctx context.Context, goalID string, patch GoalPatch) (*model.Goal, error) {
	var goal model.Goal
	path := fmt.Sprintf("/goals/%s", url.PathEscape(goalID))
	if err := c.do(ctx, http.MethodPut, path, nil, patch, &goal, "update_goal"); err != nil {
		return nil, err
	}
	return &goal, nil
}

func (c *Client) DeleteGoal(ctx context.Context, goalID string) error {
	path := fmt.Sprintf("/goals/%s", url.PathEscape(goalID))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil, "delete_goal")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, op string) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(op, "transport_error", time.Since(start))
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	metrics.RecordAPICall(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
