package registry

import (
	"context"
	"strings"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the slice of the persistence contract the registry needs.
// The conditional writes (AddHabit, ActivateHabit) carry the cap so
// the check-then-act happens atomically in the store.
type Store interface {
	AddHabit(ctx context.Context, habit *models.Habit, cap int) (*models.Habit, error)
	FindHabit(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Habit, error)
	FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error)
	HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error)
	UpdateHabit(ctx context.Context, habit *models.Habit) error
	ActivateHabit(ctx context.Context, userID, habitID primitive.ObjectID, cap int) error
	DeleteHabit(ctx context.Context, userID, habitID primitive.ObjectID) error
}

// Registry owns the habit set and its activation state, and enforces
// the active-habit cap on every activation path.
type Registry struct {
	store Store
	now   func() time.Time
}

// New creates a Registry backed by the given store.
func New(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Add creates a new active habit appended at the end of display order.
// The name is trimmed; an empty trimmed name or unknown category fails
// with INVALID_INPUT, and the fourth active habit fails with
// CAPACITY_EXCEEDED without mutating state.
func (r *Registry) Add(ctx context.Context, userID primitive.ObjectID, name string, category models.HabitCategory) (*models.Habit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.E(domain.KindInvalidInput, "habit name is required")
	}
	if !category.Valid() {
		return nil, domain.E(domain.KindInvalidInput, "unknown habit category %q", category)
	}

	order, err := r.store.HabitCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	habit := &models.Habit{
		UserID:       userID,
		Name:         name,
		Category:     category,
		IsActive:     true,
		DisplayOrder: int(order),
		CreatedAt:    r.now(),
	}
	return r.store.AddHabit(ctx, habit, models.MaxActiveHabits)
}

// Remove deletes a habit; the store cascades to its completion events
// and to every episode's paused-habit set. Removing a habit that does
// not exist is a no-op, not an error.
func (r *Registry) Remove(ctx context.Context, userID, habitID primitive.ObjectID) error {
	return r.store.DeleteHabit(ctx, userID, habitID)
}

// ToggleActive flips a habit's active flag. Reactivation re-checks the
// cap and fails with CAPACITY_EXCEEDED, leaving the habit untouched.
func (r *Registry) ToggleActive(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Habit, error) {
	habit, err := r.store.FindHabit(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}
	if habit == nil {
		return nil, domain.E(domain.KindNotFound, "habit %s not found", habitID.Hex())
	}

	if habit.IsActive {
		habit.IsActive = false
		habit.PauseReason = ""
		if err := r.store.UpdateHabit(ctx, habit); err != nil {
			return nil, err
		}
		return habit, nil
	}

	if err := r.store.ActivateHabit(ctx, userID, habitID, models.MaxActiveHabits); err != nil {
		return nil, err
	}
	habit.IsActive = true
	habit.PauseReason = ""
	return habit, nil
}

// Pause deactivates a habit and records why. This is the system- or
// classifier-initiated sibling of ToggleActive; it shares the same
// underlying state.
func (r *Registry) Pause(ctx context.Context, userID, habitID primitive.ObjectID, reason string) error {
	habit, err := r.store.FindHabit(ctx, userID, habitID)
	if err != nil {
		return err
	}
	if habit == nil {
		return domain.E(domain.KindNotFound, "habit %s not found", habitID.Hex())
	}

	habit.IsActive = false
	habit.PauseReason = reason
	return r.store.UpdateHabit(ctx, habit)
}

// List returns the user's habits in display order.
func (r *Registry) List(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	return r.store.FindHabits(ctx, userID)
}
