package registry

import (
	"context"
	"testing"

	storage "github.com/jghoshh/habitgrove/backend/storage/persistent"
	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newRegistry() (*Registry, *storage.MemoryStorage, primitive.ObjectID) {
	store := storage.NewMemoryStorage()
	return New(store), store, primitive.NewObjectID()
}

func TestAddHabit(t *testing.T) {
	ctx := context.Background()
	r, _, userID := newRegistry()

	habit, err := r.Add(ctx, userID, "  Morning run  ", models.CategoryKeystone)
	require.NoError(t, err)
	assert.Equal(t, "Morning run", habit.Name, "name should be trimmed")
	assert.True(t, habit.IsActive)
	assert.Equal(t, 0, habit.DisplayOrder)

	second, err := r.Add(ctx, userID, "Journal", models.CategoryBaseline)
	require.NoError(t, err)
	assert.Equal(t, 1, second.DisplayOrder, "new habits append at the end of display order")
}

func TestAddHabitValidation(t *testing.T) {
	ctx := context.Background()
	r, _, userID := newRegistry()

	_, err := r.Add(ctx, userID, "   ", models.CategoryKeystone)
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	_, err = r.Add(ctx, userID, "Run", models.HabitCategory("daily"))
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestAddHabitEnforcesCap(t *testing.T) {
	ctx := context.Background()
	r, store, userID := newRegistry()

	for _, name := range []string{"Run", "Read", "Sleep"} {
		_, err := r.Add(ctx, userID, name, models.CategoryKeystone)
		require.NoError(t, err)
	}

	_, err := r.Add(ctx, userID, "Meditate", models.CategoryBaseline)
	assert.True(t, domain.IsKind(err, domain.KindCapacityExceeded))

	// The failed add must not leave a partial habit behind.
	count, err := store.HabitCount(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestToggleActiveAndReactivationCap(t *testing.T) {
	ctx := context.Background()
	r, _, userID := newRegistry()

	var habits []*models.Habit
	for _, name := range []string{"Run", "Read", "Sleep"} {
		h, err := r.Add(ctx, userID, name, models.CategoryKeystone)
		require.NoError(t, err)
		habits = append(habits, h)
	}

	// Deactivate one, add a replacement, then try to reactivate.
	deactivated, err := r.ToggleActive(ctx, userID, habits[0].ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = r.Add(ctx, userID, "Meditate", models.CategoryBaseline)
	require.NoError(t, err)

	_, err = r.ToggleActive(ctx, userID, habits[0].ID)
	assert.True(t, domain.IsKind(err, domain.KindCapacityExceeded))

	// The failed reactivation leaves the habit inactive.
	fresh, err := r.ToggleActive(ctx, userID, habits[1].ID)
	require.NoError(t, err)
	assert.False(t, fresh.IsActive)
}

func TestToggleActiveUnknownHabit(t *testing.T) {
	ctx := context.Background()
	r, _, userID := newRegistry()

	_, err := r.ToggleActive(ctx, userID, primitive.NewObjectID())
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestPauseRecordsReason(t *testing.T) {
	ctx := context.Background()
	r, store, userID := newRegistry()

	habit, err := r.Add(ctx, userID, "Run", models.CategoryBaseline)
	require.NoError(t, err)

	require.NoError(t, r.Pause(ctx, userID, habit.ID, "travel"))

	stored, err := store.FindHabit(ctx, userID, habit.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "travel", stored.PauseReason)

	// Reactivation clears the reason.
	reactivated, err := r.ToggleActive(ctx, userID, habit.ID)
	require.NoError(t, err)
	assert.True(t, reactivated.IsActive)
	assert.Empty(t, reactivated.PauseReason)
}

func TestRemoveCascades(t *testing.T) {
	ctx := context.Background()
	r, store, userID := newRegistry()

	habit, err := r.Add(ctx, userID, "Run", models.CategoryBaseline)
	require.NoError(t, err)

	_, err = store.AddCompletion(ctx, &models.CompletionEvent{
		HabitID:       habit.ID,
		UserID:        userID,
		CompletedDate: "2025-04-01",
		Completed:     true,
	})
	require.NoError(t, err)

	_, err = store.AddEpisode(ctx, &models.DisruptionEpisode{
		UserID:       userID,
		Type:         models.DisruptionTravel,
		PausedHabits: []primitive.ObjectID{habit.ID},
	})
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, userID, habit.ID))

	events, err := store.FindCompletions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, events)

	episode, err := store.FindOpenEpisode(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, episode)
	assert.Empty(t, episode.PausedHabits, "deleted habit leaves every paused set")

	// Removing again is a no-op, not an error.
	assert.NoError(t, r.Remove(ctx, userID, habit.ID))
}

func TestListIsOrdered(t *testing.T) {
	ctx := context.Background()
	r, _, userID := newRegistry()

	for _, name := range []string{"First", "Second", "Third"} {
		_, err := r.Add(ctx, userID, name, models.CategoryKeystone)
		require.NoError(t, err)
	}

	habits, err := r.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, habits, 3)
	assert.Equal(t, "First", habits[0].Name)
	assert.Equal(t, "Third", habits[2].Name)
}
