package ledger

import (
	"context"
	"testing"
	"time"

	storage "github.com/jghoshh/habitgrove/backend/storage/persistent"
	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func day(s string) time.Time {
	t, err := utils.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestToggleCreatesAndRemoves(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	l := New(store)

	userID := primitive.NewObjectID()
	habitID := primitive.NewObjectID()

	// First toggle marks the day done.
	completed, err := l.Toggle(ctx, userID, habitID, "2025-06-01")
	require.NoError(t, err)
	assert.True(t, completed)

	done, err := l.IsCompletedOn(ctx, userID, habitID, "2025-06-01")
	require.NoError(t, err)
	assert.True(t, done)

	// Second toggle restores the original state exactly.
	completed, err = l.Toggle(ctx, userID, habitID, "2025-06-01")
	require.NoError(t, err)
	assert.False(t, completed)

	done, err = l.IsCompletedOn(ctx, userID, habitID, "2025-06-01")
	require.NoError(t, err)
	assert.False(t, done)

	events, err := store.FindCompletionsByHabit(ctx, habitID)
	require.NoError(t, err)
	assert.Empty(t, events, "toggling off should delete the event, not keep a completed=false row")
}

func TestToggleRejectsBadDate(t *testing.T) {
	l := New(storage.NewMemoryStorage())

	_, err := l.Toggle(context.Background(), primitive.NewObjectID(), primitive.NewObjectID(), "06/01/2025")
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestStreakCountsConsecutiveDays(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	l := New(store)

	userID := primitive.NewObjectID()
	habitID := primitive.NewObjectID()

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		_, err := l.Toggle(ctx, userID, habitID, d)
		require.NoError(t, err)
	}

	streak, err := l.Streak(ctx, habitID, "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, 3, streak)
}

func TestStreakToleratesMissingToday(t *testing.T) {
	// Completions on Jan 1-4 but not on the asOf day: the streak still
	// counts from yesterday backward.
	done := map[string]bool{
		"2025-01-01": true,
		"2025-01-02": true,
		"2025-01-03": true,
		"2025-01-04": true,
	}
	assert.Equal(t, 4, StreakAsOf(done, day("2025-01-05")))
}

func TestStreakBreaksOnInteriorGap(t *testing.T) {
	// Jan 1, 2, 4, 5 completed; Jan 3 missed. As of Jan 5 the streak is
	// the Jan 4-5 run only.
	done := map[string]bool{
		"2025-01-01": true,
		"2025-01-02": true,
		"2025-01-04": true,
		"2025-01-05": true,
	}
	assert.Equal(t, 2, StreakAsOf(done, day("2025-01-05")))

	// With today also missing, the gap at yesterday ends it at zero.
	assert.Equal(t, 0, StreakAsOf(map[string]bool{"2025-01-03": true}, day("2025-01-05")))
}

func TestStreakEmptyLedger(t *testing.T) {
	assert.Equal(t, 0, StreakAsOf(map[string]bool{}, day("2025-01-05")))
}

func TestStreakIsBounded(t *testing.T) {
	// A ledger with two years of daily completions caps at the lookback
	// window.
	done := make(map[string]bool)
	asOf := day("2025-12-31")
	for i := 0; i < 730; i++ {
		done[utils.DayKey(asOf.AddDate(0, 0, -i))] = true
	}
	assert.Equal(t, lookbackDays, StreakAsOf(done, asOf))
}

func TestCompletedDaysIgnoresIncomplete(t *testing.T) {
	events := []models.CompletionEvent{
		{CompletedDate: "2025-03-01", Completed: true},
		{CompletedDate: "2025-03-02", Completed: false},
	}
	done := CompletedDays(events)
	assert.True(t, done["2025-03-01"])
	assert.False(t, done["2025-03-02"])
}

func TestExportAnnotatesStreak(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	l := New(store)

	userID := primitive.NewObjectID()
	habit, err := store.AddHabit(ctx, &models.Habit{
		UserID:   userID,
		Name:     "Read",
		Category: models.CategoryKeystone,
		IsActive: true,
	}, models.MaxActiveHabits)
	require.NoError(t, err)

	for _, d := range []string{"2025-02-01", "2025-02-02"} {
		_, err := l.Toggle(ctx, userID, habit.ID, d)
		require.NoError(t, err)
	}

	rows, err := l.Export(ctx, []models.Habit{*habit}, "2025-02-02")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "Read", row.HabitName)
		assert.Equal(t, "keystone", row.Category)
		assert.Equal(t, 2, row.Streak)
		assert.True(t, row.Completed)
	}
}
