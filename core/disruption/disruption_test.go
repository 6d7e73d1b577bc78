package disruption

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

func newMachine() (*Machine, *storage.MemoryStorage, primitive.ObjectID) {
	store := storage.NewMemoryStorage()
	return New(store, store), store, primitive.NewObjectID()
}

func addHabit(t *testing.T, store *storage.MemoryStorage, userID primitive.ObjectID, name string, category models.HabitCategory, active bool) *models.Habit {
	t.Helper()
	habit, err := store.AddHabit(context.Background(), &models.Habit{
		UserID:   userID,
		Name:     name,
		Category: category,
		IsActive: active,
	}, models.MaxActiveHabits)
	require.NoError(t, err)
	return habit
}

func TestStartAndActive(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	episode, err := m.Start(ctx, userID, models.DisruptionTravel, "keep it small", nil)
	require.NoError(t, err)
	assert.True(t, episode.Open())
	assert.Equal(t, models.DisruptionTravel, episode.Type)

	active, err := m.Active(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, episode.ID, active.ID)
}

func TestStartRejectsSecondEpisode(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	first, err := m.Start(ctx, userID, models.DisruptionStress, "", nil)
	require.NoError(t, err)

	_, err = m.Start(ctx, userID, models.DisruptionIllness, "", nil)
	assert.True(t, domain.IsKind(err, domain.KindAlreadyDisrupted))

	// The first episode is untouched.
	active, err := m.Active(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, models.DisruptionStress, active.Type)
}

func TestStartRejectsUnknownType(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	_, err := m.Start(ctx, userID, models.DisruptionType("vacation"), "", nil)
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestStartDefaultsPausedSetToActiveBaselines(t *testing.T) {
	ctx := context.Background()
	m, store, userID := newMachine()

	addHabit(t, store, userID, "Meditate", models.CategoryKeystone, true)
	baseline := addHabit(t, store, userID, "Journal", models.CategoryBaseline, true)
	addHabit(t, store, userID, "Stretch", models.CategoryBaseline, false)

	episode, err := m.Start(ctx, userID, models.DisruptionFatigue, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{baseline.ID}, episode.PausedHabits)
}

func TestStartWithExplicitEmptyPausedSet(t *testing.T) {
	ctx := context.Background()
	m, store, userID := newMachine()

	addHabit(t, store, userID, "Journal", models.CategoryBaseline, true)

	episode, err := m.Start(ctx, userID, models.DisruptionTravel, "", []primitive.ObjectID{})
	require.NoError(t, err)
	assert.Empty(t, episode.PausedHabits, "an explicit empty list pauses nothing")
}

func TestEndWhileCalmIsNoOp(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	episode, err := m.End(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, episode)
}

func TestEndClosesEpisode(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	_, err := m.Start(ctx, userID, models.DisruptionManual, "", nil)
	require.NoError(t, err)

	closed, err := m.End(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.False(t, closed.Open())

	active, err := m.Active(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	// Calm -> Disrupted with a manual episode.
	episode, disrupted, err := m.Toggle(ctx, userID)
	require.NoError(t, err)
	assert.True(t, disrupted)
	assert.Equal(t, models.DisruptionManual, episode.Type)

	// Disrupted -> Calm.
	episode, disrupted, err = m.Toggle(ctx, userID)
	require.NoError(t, err)
	assert.False(t, disrupted)
	assert.False(t, episode.Open())
}

func TestHistoryIncludesClosedEpisodes(t *testing.T) {
	ctx := context.Background()
	m, _, userID := newMachine()

	_, err := m.Start(ctx, userID, models.DisruptionTravel, "", nil)
	require.NoError(t, err)
	_, err = m.End(ctx, userID)
	require.NoError(t, err)
	_, err = m.Start(ctx, userID, models.DisruptionStress, "", nil)
	require.NoError(t, err)

	episodes, err := m.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, episodes, 2)
}

func TestExpectedHabits(t *testing.T) {
	userID := primitive.NewObjectID()
	habits := []models.Habit{
		{UserID: userID, Name: "Meditate", Category: models.CategoryKeystone, IsActive: true},
		{UserID: userID, Name: "Journal", Category: models.CategoryBaseline, IsActive: true},
		{UserID: userID, Name: "Stretch", Category: models.CategoryBaseline, IsActive: false},
	}

	calm := ExpectedHabits(habits, false)
	require.Len(t, calm, 2)

	disrupted := ExpectedHabits(habits, true)
	require.Len(t, disrupted, 1)
	assert.Equal(t, "Meditate", disrupted[0].Name)
}
