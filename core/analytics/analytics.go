// Package analytics aggregates the raw event streams into the summary
// statistics behind the reporting view. Everything here is a pure
// function of its inputs over a fixed lookback window; snapshots are
// derived on demand and never persisted.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/jghoshh/habitgrove/core/ledger"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
)

const (
	// rateWindowDays is the trailing window for the completion rate.
	rateWindowDays = 30

	// moodHistoryCap bounds the mood history series.
	moodHistoryCap = 30
)

// Input carries the per-owner event streams the snapshot is built from.
type Input struct {
	Habits      []models.Habit
	Completions []models.CompletionEvent
	Logs        []models.DailyLog
	Episodes    []models.DisruptionEpisode
}

// Build computes the analytics snapshot as of the given day.
func Build(in Input, asOf time.Time) models.AnalyticsSnapshot {
	snapshot := models.AnalyticsSnapshot{
		StreaksByHabit: []models.HabitStreak{},
		MoodHistory:    []models.MoodPoint{},
	}

	doneByHabit := make(map[string]map[string]bool, len(in.Habits))
	for _, ev := range in.Completions {
		if !ev.Completed {
			continue
		}
		snapshot.TotalCompletions++
		key := ev.HabitID.Hex()
		if doneByHabit[key] == nil {
			doneByHabit[key] = make(map[string]bool)
		}
		doneByHabit[key][ev.CompletedDate] = true
	}

	// Streaks cover every habit, active or not.
	for _, habit := range in.Habits {
		streak := ledger.StreakAsOf(doneByHabit[habit.ID.Hex()], asOf)
		snapshot.StreaksByHabit = append(snapshot.StreaksByHabit, models.HabitStreak{
			HabitID:   habit.ID,
			HabitName: habit.Name,
			Streak:    streak,
		})
		if streak > snapshot.LongestStreak {
			snapshot.LongestStreak = streak
		}
		snapshot.CurrentStreakSum += streak
	}

	// Completion rate over the trailing 30 days. The denominator is
	// the current active count times the window, an ideal rather than
	// a historical schedule; see the AnalyticsSnapshot doc.
	activeCount := 0
	for _, habit := range in.Habits {
		if habit.IsActive {
			activeCount++
		}
	}
	if activeCount > 0 {
		windowStart := utils.DayKey(asOf.AddDate(0, 0, -rateWindowDays))
		recent := 0
		for _, ev := range in.Completions {
			if ev.Completed && ev.CompletedDate > windowStart {
				recent++
			}
		}
		rate := float64(recent) / float64(activeCount*rateWindowDays)
		snapshot.CompletionRate = math.Round(rate*100) / 100
	}

	// Mood aggregates over every entry that carries a mood value.
	moodSum := 0
	moodCount := 0
	for _, log := range in.Logs {
		if log.Mood == nil {
			continue
		}
		moodSum += *log.Mood
		moodCount++
		snapshot.MoodHistory = append(snapshot.MoodHistory, models.MoodPoint{
			Date: log.LogDate,
			Mood: *log.Mood,
		})
	}
	if moodCount > 0 {
		snapshot.AverageMood = math.Round(float64(moodSum)/float64(moodCount)*10) / 10
	}

	// Mood history runs oldest to newest, capped to the most recent
	// entries.
	sort.Slice(snapshot.MoodHistory, func(i, j int) bool {
		return snapshot.MoodHistory[i].Date < snapshot.MoodHistory[j].Date
	})
	if len(snapshot.MoodHistory) > moodHistoryCap {
		snapshot.MoodHistory = snapshot.MoodHistory[len(snapshot.MoodHistory)-moodHistoryCap:]
	}

	snapshot.DisruptionCount = len(in.Episodes)
	return snapshot
}
