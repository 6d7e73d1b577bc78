// Package health computes the 0-100 vigor score behind the plant
// visualization: half today's completion ratio, half sustained streak
// history with diminishing returns past a 10-day average.
package health

import (
	"math"
	"time"

	"github.com/jghoshh/habitgrove/core/ledger"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
)

// neutralScore is returned when no habits are active. A user with
// nothing configured yet gets a neutral plant, not a dead one, and no
// division by zero.
const neutralScore = 50

// Score blends today's completion ratio with the average streak across
// the active habits, as of the given day. Pure function of its inputs.
func Score(activeHabits []models.Habit, events []models.CompletionEvent, asOf time.Time) int {
	if len(activeHabits) == 0 {
		return neutralScore
	}

	today := utils.DayKey(asOf)
	doneByHabit := make(map[string]map[string]bool, len(activeHabits))
	for _, ev := range events {
		if !ev.Completed {
			continue
		}
		key := ev.HabitID.Hex()
		if doneByHabit[key] == nil {
			doneByHabit[key] = make(map[string]bool)
		}
		doneByHabit[key][ev.CompletedDate] = true
	}

	completedToday := 0
	streakSum := 0
	for _, habit := range activeHabits {
		done := doneByHabit[habit.ID.Hex()]
		if done[today] {
			completedToday++
		}
		streakSum += ledger.StreakAsOf(done, asOf)
	}

	todayScore := float64(completedToday) / float64(len(activeHabits)) * 50
	avgStreak := float64(streakSum) / float64(len(activeHabits))
	streakScore := math.Min(avgStreak*5, 50)

	return int(math.Round(todayScore + streakScore))
}
