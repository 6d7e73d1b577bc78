package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StorageInterface defines the set of methods that any persistent
// storage backend needs to implement.
//
// Two operations are conditional writes because they guard domain
// invariants that would otherwise race: AddHabit/ActivateHabit against
// the active-habit cap, and AddEpisode against the at-most-one-open
// episode rule. Implementations must make those checks atomic.
//
// Lookups for a single record return (nil, nil) when the record does
// not exist; deciding whether "missing" is an error belongs to the
// domain layer, not the store.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error

	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user by username.
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	// Finds a user by email.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Adds a new habit. If the habit is active, the insert only
	// succeeds while the user's active-habit count is below cap.
	AddHabit(ctx context.Context, habit *models.Habit, cap int) (*models.Habit, error)
	// Finds one habit owned by the user.
	FindHabit(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Habit, error)
	// Lists the user's habits in display order.
	FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error)
	// Counts all habits the user has, active or not.
	HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error)
	// Counts the user's currently active habits.
	CountActiveHabits(ctx context.Context, userID primitive.ObjectID) (int64, error)
	// Persists mutable habit fields (is_active, pause_reason).
	UpdateHabit(ctx context.Context, habit *models.Habit) error
	// Flips a habit to active, only while the active count is below cap.
	ActivateHabit(ctx context.Context, userID, habitID primitive.ObjectID, cap int) error
	// Deletes a habit and cascades: its completion events are removed
	// and its id is pulled from every episode's paused-habit set.
	// Deleting a missing habit is a no-op.
	DeleteHabit(ctx context.Context, userID, habitID primitive.ObjectID) error

	// Finds the completion event for (habit, date), if any.
	FindCompletion(ctx context.Context, userID, habitID primitive.ObjectID, date string) (*models.CompletionEvent, error)
	// Adds a completion event.
	AddCompletion(ctx context.Context, ev *models.CompletionEvent) (*models.CompletionEvent, error)
	// Sets the completed flag on an existing event.
	MarkCompletion(ctx context.Context, id primitive.ObjectID, completed bool) error
	// Deletes a completion event by id.
	DeleteCompletion(ctx context.Context, id primitive.ObjectID) error
	// Lists every completion event for one habit.
	FindCompletionsByHabit(ctx context.Context, habitID primitive.ObjectID) ([]models.CompletionEvent, error)
	// Lists every completion event the user owns.
	FindCompletions(ctx context.Context, userID primitive.ObjectID) ([]models.CompletionEvent, error)

	// Inserts or updates the log keyed on (user, date).
	UpsertDailyLog(ctx context.Context, log *models.DailyLog) (*models.DailyLog, error)
	// Merges classifier output into an existing log without touching
	// mood or notes, so a late result never clobbers a newer edit.
	MergeLogClassification(ctx context.Context, userID primitive.ObjectID, date string, dtype models.DisruptionType, plan string, detectedAt time.Time) (*models.DailyLog, error)
	// Finds the log for (user, date), if any.
	FindDailyLog(ctx context.Context, userID primitive.ObjectID, date string) (*models.DailyLog, error)
	// Lists the user's logs newest first, up to limit (0 = no limit).
	FindDailyLogs(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.DailyLog, error)

	// Inserts a new open episode. Fails with an ALREADY_DISRUPTED
	// domain error while another episode is open for the user.
	AddEpisode(ctx context.Context, ep *models.DisruptionEpisode) (*models.DisruptionEpisode, error)
	// Finds the user's open episode, or nil when calm.
	FindOpenEpisode(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, error)
	// Lists every episode for the user, newest first.
	FindEpisodes(ctx context.Context, userID primitive.ObjectID) ([]models.DisruptionEpisode, error)
	// Stamps ended_at on the open episode and returns it. Returns
	// (nil, nil) when no episode is open; closing from calm is a no-op.
	CloseEpisode(ctx context.Context, userID primitive.ObjectID, endedAt time.Time) (*models.DisruptionEpisode, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
