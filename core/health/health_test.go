package health

import (
	"testing"
	"time"

	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func day(s string) time.Time {
	t, err := utils.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func completions(habitID primitive.ObjectID, dates ...string) []models.CompletionEvent {
	var events []models.CompletionEvent
	for _, d := range dates {
		events = append(events, models.CompletionEvent{
			HabitID:       habitID,
			CompletedDate: d,
			Completed:     true,
		})
	}
	return events
}

func TestScoreNeutralWithNoActiveHabits(t *testing.T) {
	assert.Equal(t, 50, Score(nil, nil, day("2025-05-01")))
	assert.Equal(t, 50, Score([]models.Habit{}, nil, day("2025-05-01")))
}

func TestScoreBlendsTodayAndStreaks(t *testing.T) {
	habitA := models.Habit{ID: primitive.NewObjectID(), IsActive: true}
	habitB := models.Habit{ID: primitive.NewObjectID(), IsActive: true}

	// A done today and yesterday (streak 2), B untouched. Today's ratio
	// is 1/2 -> 25 points; average streak is 1 -> 5 points.
	events := completions(habitA.ID, "2025-05-01", "2025-05-02")

	score := Score([]models.Habit{habitA, habitB}, events, day("2025-05-02"))
	assert.Equal(t, 30, score)
}

func TestScoreStreakComponentIsCapped(t *testing.T) {
	habit := models.Habit{ID: primitive.NewObjectID(), IsActive: true}

	asOf := day("2025-05-20")
	var dates []string
	for i := 0; i < 15; i++ {
		dates = append(dates, utils.DayKey(asOf.AddDate(0, 0, -i)))
	}

	// 15-day streak including today: 50 for today plus the capped 50
	// for streaks.
	score := Score([]models.Habit{habit}, completions(habit.ID, dates...), asOf)
	assert.Equal(t, 100, score)
}

func TestScoreZeroWhenNothingDone(t *testing.T) {
	habit := models.Habit{ID: primitive.NewObjectID(), IsActive: true}
	assert.Equal(t, 0, Score([]models.Habit{habit}, nil, day("2025-05-02")))
}

func TestScoreIgnoresIncompleteEvents(t *testing.T) {
	habit := models.Habit{ID: primitive.NewObjectID(), IsActive: true}
	events := []models.CompletionEvent{
		{HabitID: habit.ID, CompletedDate: "2025-05-02", Completed: false},
	}
	assert.Equal(t, 0, Score([]models.Habit{habit}, events, day("2025-05-02")))
}
