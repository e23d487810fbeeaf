package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"habitflow/internal/model"
)

// EntryFetcher is the slice of the backend client the adapter needs.
type EntryFetcher interface {
	GetHabit(ctx context.Context, habitID string) (*model.Habit, error)
	ListHabitEntries(ctx context.Context, habitID, start, end, tz string) ([]model.HabitEntry, error)
}

// Adapter produces one ordered list of normalized entries for a goal out of
// its manual logs and the entries of every linked habit.
type Adapter struct {
	fetcher EntryFetcher
	tz      *time.Location
	logger  *zap.Logger
}

func NewAdapter(fetcher EntryFetcher, tz *time.Location, logger *zap.Logger) *Adapter {
	if tz == nil {
		tz = time.Local
	}
	return &Adapter{
		fetcher: fetcher,
		tz:      tz,
		logger:  logger,
	}
}

// CollectEntries fetches each linked habit's type and entries concurrently,
// normalizes everything into one shape, and returns the list sorted
// ascending by day key. All habit fetches must succeed: a partial result
// would understate the running total and could falsely suppress completion,
// so any failure fails the whole pass.
func (a *Adapter) CollectEntries(ctx context.Context, goal *model.Goal, logs []model.ManualLog) ([]model.NormalizedEntry, error) {
	now := time.Now().In(a.tz)

	entries := make([]model.NormalizedEntry, 0, len(logs))
	for _, log := range logs {
		e := model.NormalizedEntry{
			Date:   log.LoggedAt.In(a.tz).Format("2006-01-02"),
			Value:  log.Value,
			Source: model.SourceManual,
			Unit:   goal.Unit,
		}
		if Included(goal.Type, e) {
			entries = append(entries, e)
		}
	}

	if len(goal.LinkedHabitIDs) > 0 {
		start := goal.CreatedAt.In(a.tz).Format("2006-01-02")
		end := now.Format("2006-01-02")

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)

		for _, habitID := range goal.LinkedHabitIDs {
			habitID := habitID
			g.Go(func() error {
				habitEntries, habitType, err := a.fetchHabit(gctx, habitID, start, end)
				if err != nil {
					return err
				}

				normalized := make([]model.NormalizedEntry, 0, len(habitEntries))
				for _, he := range habitEntries {
					e, ok := a.normalizeHabitEntry(goal, he, habitType)
					if !ok {
						continue
					}
					if Included(goal.Type, e) {
						normalized = append(normalized, e)
					}
				}

				mu.Lock()
				entries = append(entries, normalized...)
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	// Ascending lexicographic order is correct for fixed-width zero-padded
	// ISO day keys.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date < entries[j].Date
	})
	return entries, nil
}

func (a *Adapter) fetchHabit(ctx context.Context, habitID, start, end string) ([]model.HabitEntry, model.HabitType, error) {
	var (
		habit   *model.Habit
		entries []model.HabitEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := a.fetcher.GetHabit(gctx, habitID)
		if err != nil {
			return err
		}
		habit = h
		return nil
	})
	g.Go(func() error {
		es, err := a.fetcher.ListHabitEntries(gctx, habitID, start, end, a.tz.String())
		if err != nil {
			return err
		}
		entries = es
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	return entries, habit.Type, nil
}

func (a *Adapter) normalizeHabitEntry(goal *model.Goal, he model.HabitEntry, habitType model.HabitType) (model.NormalizedEntry, bool) {
	day := he.DayKey()
	if day == "" {
		// No resolvable day: the entry cannot be attributed anywhere.
		a.logger.Debug("Dropping habit entry without a date",
			zap.String("habit_id", he.HabitID),
			zap.String("goal_id", goal.ID),
		)
		return model.NormalizedEntry{}, false
	}

	ht := he.HabitType
	if ht == "" {
		ht = habitType
	}

	value := 0.0
	switch {
	case he.Value != nil:
		value = *he.Value
	case ht == model.HabitBoolean:
		// A recorded boolean entry with no value is a completion.
		value = 1
	}

	return model.NormalizedEntry{
		Date:      day,
		Value:     value,
		Source:    model.SourceHabit,
		Unit:      goal.Unit,
		HabitType: ht,
	}, true
}
