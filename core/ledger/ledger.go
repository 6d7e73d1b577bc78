package ledger

import (
	"context"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// lookbackDays bounds the backward streak walk so a pathological
// ledger can never make streak computation unbounded.
const lookbackDays = 365

// Store is the slice of the persistence contract the ledger needs.
type Store interface {
	FindCompletion(ctx context.Context, userID, habitID primitive.ObjectID, date string) (*models.CompletionEvent, error)
	AddCompletion(ctx context.Context, ev *models.CompletionEvent) (*models.CompletionEvent, error)
	MarkCompletion(ctx context.Context, id primitive.ObjectID, completed bool) error
	DeleteCompletion(ctx context.Context, id primitive.ObjectID) error
	FindCompletionsByHabit(ctx context.Context, habitID primitive.ObjectID) ([]models.CompletionEvent, error)
	FindCompletions(ctx context.Context, userID primitive.ObjectID) ([]models.CompletionEvent, error)
}

// Ledger owns dated completion events and streak computation. It is
// the only component that records or toggles completions.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a Ledger backed by the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Toggle flips the completion for (habit, date). With no event the day
// becomes completed; a completed day has its event deleted rather than
// kept as completed=false, so streaks and lookups only ever observe
// completed=true events as "done". Returns the resulting state.
func (l *Ledger) Toggle(ctx context.Context, userID, habitID primitive.ObjectID, date string) (bool, error) {
	if _, err := utils.ParseDay(date); err != nil {
		return false, domain.E(domain.KindInvalidInput, "invalid date %q, want YYYY-MM-DD", date)
	}

	ev, err := l.store.FindCompletion(ctx, userID, habitID, date)
	if err != nil {
		return false, err
	}

	if ev == nil {
		_, err := l.store.AddCompletion(ctx, &models.CompletionEvent{
			HabitID:       habitID,
			UserID:        userID,
			CompletedDate: date,
			Completed:     true,
			CreatedAt:     l.now(),
		})
		return true, err
	}

	if ev.Completed {
		return false, l.store.DeleteCompletion(ctx, ev.ID)
	}
	return true, l.store.MarkCompletion(ctx, ev.ID, true)
}

// IsCompletedOn reports whether (habit, date) has a completed event.
func (l *Ledger) IsCompletedOn(ctx context.Context, userID, habitID primitive.ObjectID, date string) (bool, error) {
	ev, err := l.store.FindCompletion(ctx, userID, habitID, date)
	if err != nil {
		return false, err
	}
	return ev != nil && ev.Completed, nil
}

// Streak computes the habit's streak as of the given day. The streak
// is a sliding lookback over the ledger, never a stored counter, so it
// is always consistent with the events.
func (l *Ledger) Streak(ctx context.Context, habitID primitive.ObjectID, asOf string) (int, error) {
	day, err := utils.ParseDay(asOf)
	if err != nil {
		return 0, domain.E(domain.KindInvalidInput, "invalid date %q, want YYYY-MM-DD", asOf)
	}

	events, err := l.store.FindCompletionsByHabit(ctx, habitID)
	if err != nil {
		return 0, err
	}
	return StreakAsOf(CompletedDays(events), day), nil
}

// CompletedDays collapses events into the set of days with a
// completed=true event.
func CompletedDays(events []models.CompletionEvent) map[string]bool {
	done := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.Completed {
			done[ev.CompletedDate] = true
		}
	}
	return done
}

// StreakAsOf walks backward day by day from asOf (inclusive) for up to
// a year, counting consecutive completed days. A missing completion on
// asOf itself does not break the walk: if today isn't done yet, the
// streak counted is from yesterday backward. Any other gap stops it.
func StreakAsOf(done map[string]bool, asOf time.Time) int {
	streak := 0
	for i := 0; i < lookbackDays; i++ {
		key := utils.DayKey(asOf.AddDate(0, 0, -i))
		if done[key] {
			streak++
		} else if i > 0 {
			break
		}
	}
	return streak
}

// Export produces the flat projection handed to external CSV
// rendering: one row per completion event, annotated with the habit's
// current streak. It reads the ledger; it computes nothing new.
func (l *Ledger) Export(ctx context.Context, habits []models.Habit, asOf string) ([]models.ExportRow, error) {
	day, err := utils.ParseDay(asOf)
	if err != nil {
		return nil, domain.E(domain.KindInvalidInput, "invalid date %q, want YYYY-MM-DD", asOf)
	}

	var rows []models.ExportRow
	for _, habit := range habits {
		events, err := l.store.FindCompletionsByHabit(ctx, habit.ID)
		if err != nil {
			return nil, err
		}
		streak := StreakAsOf(CompletedDays(events), day)
		for _, ev := range events {
			rows = append(rows, models.ExportRow{
				HabitName: habit.Name,
				Category:  string(habit.Category),
				Date:      ev.CompletedDate,
				Completed: ev.Completed,
				Streak:    streak,
			})
		}
	}
	return rows, nil
}
