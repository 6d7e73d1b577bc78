package disruption

import (
	"context"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the slice of the persistence contract the state machine
// needs. AddEpisode is the conditional write that upholds the
// at-most-one-open-episode invariant.
type Store interface {
	AddEpisode(ctx context.Context, ep *models.DisruptionEpisode) (*models.DisruptionEpisode, error)
	FindOpenEpisode(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, error)
	FindEpisodes(ctx context.Context, userID primitive.ObjectID) ([]models.DisruptionEpisode, error)
	CloseEpisode(ctx context.Context, userID primitive.ObjectID, endedAt time.Time) (*models.DisruptionEpisode, error)
}

// HabitLister supplies the habit set used to default the paused-habit
// set when a caller starts an episode without naming one.
type HabitLister interface {
	FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error)
}

// Machine is the disruption state machine. A user is Calm when no
// episode is open and Disrupted when exactly one is; this is the only
// component that creates or closes episodes.
type Machine struct {
	store  Store
	habits HabitLister
	now    func() time.Time
}

// New creates a Machine backed by the given store and habit lister.
func New(store Store, habits HabitLister) *Machine {
	return &Machine{store: store, habits: habits, now: time.Now}
}

// Active returns the open episode, or nil while Calm.
//
// Banner acknowledgement is a display concern and deliberately not
// tracked here: callers key dismissal on the episode id so a new
// episode always re-surfaces, and dismissing never ends the episode.
func (m *Machine) Active(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, error) {
	return m.store.FindOpenEpisode(ctx, userID)
}

// Start opens a new episode. Only valid while Calm: a second open
// fails with ALREADY_DISRUPTED and the first episode stays active.
// When pausedHabitIDs is nil the episode pauses every currently-active
// baseline habit; a non-nil empty list pauses nothing.
func (m *Machine) Start(ctx context.Context, userID primitive.ObjectID, dtype models.DisruptionType, recoveryPlan string, pausedHabitIDs []primitive.ObjectID) (*models.DisruptionEpisode, error) {
	if !dtype.Valid() {
		return nil, domain.E(domain.KindInvalidInput, "unknown disruption type %q", dtype)
	}

	if pausedHabitIDs == nil {
		habits, err := m.habits.FindHabits(ctx, userID)
		if err != nil {
			return nil, err
		}
		pausedHabitIDs = []primitive.ObjectID{}
		for _, h := range habits {
			if h.IsActive && h.Category == models.CategoryBaseline {
				pausedHabitIDs = append(pausedHabitIDs, h.ID)
			}
		}
	}

	return m.store.AddEpisode(ctx, &models.DisruptionEpisode{
		UserID:       userID,
		Type:         dtype,
		StartedAt:    m.now(),
		EndedAt:      nil,
		RecoveryPlan: recoveryPlan,
		PausedHabits: pausedHabitIDs,
	})
}

// End closes the open episode and returns it. Ending while Calm is a
// no-op returning (nil, nil); the UI calls this speculatively.
func (m *Machine) End(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, error) {
	return m.store.CloseEpisode(ctx, userID, m.now())
}

// Toggle ends the open episode if there is one, otherwise starts a
// manual episode. Returns the episode acted on and whether the user is
// Disrupted afterwards.
func (m *Machine) Toggle(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, bool, error) {
	closed, err := m.store.CloseEpisode(ctx, userID, m.now())
	if err != nil {
		return nil, false, err
	}
	if closed != nil {
		return closed, false, nil
	}

	started, err := m.Start(ctx, userID, models.DisruptionManual, "", nil)
	if err != nil {
		return nil, false, err
	}
	return started, true, nil
}

// History lists every episode, open and closed, newest first.
func (m *Machine) History(ctx context.Context, userID primitive.ObjectID) ([]models.DisruptionEpisode, error) {
	return m.store.FindEpisodes(ctx, userID)
}

// ExpectedHabits filters the habit list down to what the user is
// expected to do right now: inactive habits never count, and while
// disrupted, baseline habits drop out and only keystones remain. Pure
// function of its inputs; recomputed on every query, never cached.
func ExpectedHabits(habits []models.Habit, disrupted bool) []models.Habit {
	var expected []models.Habit
	for _, h := range habits {
		if !h.IsActive {
			continue
		}
		if disrupted && h.Category == models.CategoryBaseline {
			continue
		}
		expected = append(expected, h)
	}
	return expected
}
