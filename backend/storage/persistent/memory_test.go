package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestUserLookups(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.AddUser(ctx, &models.User{
		Username:     "grover",
		Email:        "grover@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)

	byName, err := store.FindUserByUsername(ctx, "grover")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, "grover@example.com", byName.Email)

	byEmail, err := store.FindUserByEmail(ctx, "grover@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)

	missing, err := store.FindUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing, "absent records come back as (nil, nil)")
}

func TestAddHabitEnforcesActiveCap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	userID := primitive.NewObjectID()

	for i := 0; i < 3; i++ {
		_, err := store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: true}, 3)
		require.NoError(t, err)
	}

	_, err := store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: true}, 3)
	assert.True(t, domain.IsKind(err, domain.KindCapacityExceeded))

	// An inactive habit is not capped.
	_, err = store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: false}, 3)
	assert.NoError(t, err)
}

func TestActivateHabitEnforcesCap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	userID := primitive.NewObjectID()

	inactive, err := store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: false}, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: true}, 3)
		require.NoError(t, err)
	}

	err = store.ActivateHabit(ctx, userID, inactive.ID, 3)
	assert.True(t, domain.IsKind(err, domain.KindCapacityExceeded))

	// Activating an already-active habit passes regardless of the cap.
	habits, err := store.FindHabits(ctx, userID)
	require.NoError(t, err)
	for _, h := range habits {
		if h.IsActive {
			assert.NoError(t, store.ActivateHabit(ctx, userID, h.ID, 3))
			break
		}
	}
}

func TestHabitScopedToOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	owner := primitive.NewObjectID()
	stranger := primitive.NewObjectID()

	habit, err := store.AddHabit(ctx, &models.Habit{UserID: owner, IsActive: true}, 3)
	require.NoError(t, err)

	found, err := store.FindHabit(ctx, stranger, habit.ID)
	require.NoError(t, err)
	assert.Nil(t, found, "habits are invisible across users")

	assert.NoError(t, store.DeleteHabit(ctx, stranger, habit.ID))
	still, err := store.FindHabit(ctx, owner, habit.ID)
	require.NoError(t, err)
	assert.NotNil(t, still, "a stranger's delete is a no-op")
}

func TestSingleOpenEpisodePerUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	userID := primitive.NewObjectID()

	_, err := store.AddEpisode(ctx, &models.DisruptionEpisode{UserID: userID, Type: models.DisruptionTravel, StartedAt: time.Now()})
	require.NoError(t, err)

	_, err = store.AddEpisode(ctx, &models.DisruptionEpisode{UserID: userID, Type: models.DisruptionStress, StartedAt: time.Now()})
	assert.True(t, domain.IsKind(err, domain.KindAlreadyDisrupted))

	// A different user is unaffected.
	_, err = store.AddEpisode(ctx, &models.DisruptionEpisode{UserID: primitive.NewObjectID(), Type: models.DisruptionStress, StartedAt: time.Now()})
	assert.NoError(t, err)

	// Closing reopens capacity.
	closed, err := store.CloseEpisode(ctx, userID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, closed)

	_, err = store.AddEpisode(ctx, &models.DisruptionEpisode{UserID: userID, Type: models.DisruptionIllness, StartedAt: time.Now()})
	assert.NoError(t, err)
}

func TestCloseEpisodeWhileCalm(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	closed, err := store.CloseEpisode(ctx, primitive.NewObjectID(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, closed)
}

func TestUpsertDailyLogKeyedOnUserAndDate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	userID := primitive.NewObjectID()
	mood := 3

	first, err := store.UpsertDailyLog(ctx, &models.DailyLog{UserID: userID, LogDate: "2025-08-01", Mood: &mood, Notes: "a"})
	require.NoError(t, err)

	newMood := 5
	second, err := store.UpsertDailyLog(ctx, &models.DailyLog{UserID: userID, LogDate: "2025-08-01", Mood: &newMood, Notes: "b"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same (user, date) updates in place")
	assert.Equal(t, "b", second.Notes)

	logs, err := store.FindDailyLogs(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMergeLogClassificationOnlyTouchesDisruptionFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	userID := primitive.NewObjectID()
	mood := 4

	_, err := store.UpsertDailyLog(ctx, &models.DailyLog{UserID: userID, LogDate: "2025-08-01", Mood: &mood, Notes: "long trip"})
	require.NoError(t, err)

	merged, err := store.MergeLogClassification(ctx, userID, "2025-08-01", models.DisruptionTravel, "rest up", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.DisruptionTravel, merged.DisruptionType)
	assert.Equal(t, "rest up", merged.RecoveryPlan)
	assert.Equal(t, 4, *merged.Mood, "mood survives the merge")
	assert.Equal(t, "long trip", merged.Notes, "notes survive the merge")

	_, err = store.MergeLogClassification(ctx, userID, "2025-08-02", models.DisruptionTravel, "", time.Now())
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestDeleteHabitCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	userID := primitive.NewObjectID()

	habit, err := store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: true}, 3)
	require.NoError(t, err)
	other, err := store.AddHabit(ctx, &models.Habit{UserID: userID, IsActive: true}, 3)
	require.NoError(t, err)

	_, err = store.AddCompletion(ctx, &models.CompletionEvent{UserID: userID, HabitID: habit.ID, CompletedDate: "2025-08-01", Completed: true})
	require.NoError(t, err)
	_, err = store.AddCompletion(ctx, &models.CompletionEvent{UserID: userID, HabitID: other.ID, CompletedDate: "2025-08-01", Completed: true})
	require.NoError(t, err)

	_, err = store.AddEpisode(ctx, &models.DisruptionEpisode{
		UserID:       userID,
		Type:         models.DisruptionTravel,
		StartedAt:    time.Now(),
		PausedHabits: []primitive.ObjectID{habit.ID, other.ID},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteHabit(ctx, userID, habit.ID))

	events, err := store.FindCompletions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, other.ID, events[0].HabitID)

	episode, err := store.FindOpenEpisode(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{other.ID}, episode.PausedHabits)
}
