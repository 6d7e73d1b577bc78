package models

import (
    "time"

    "go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxActiveHabits is the cap on simultaneously active habits per user.
// The cap is enforced at activation time, never retroactively.
const MaxActiveHabits = 3

// HabitCategory classifies how a habit behaves during a disruption.
// Keystone habits stay expected no matter what; baseline habits are
// paused automatically while a disruption episode is open.
type HabitCategory string

const (
    CategoryKeystone HabitCategory = "keystone"
    CategoryBaseline HabitCategory = "baseline"
)

// Valid reports whether c is one of the known categories.
func (c HabitCategory) Valid() bool {
    return c == CategoryKeystone || c == CategoryBaseline
}

type User struct {
    ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
    Username     string             `bson:"username" json:"username"`
    PasswordHash string             `bson:"password_hash" json:"-"`
    Email        string             `bson:"email" json:"email"`
}

// Habit is the canonical habit shape. Category is immutable after
// creation; activation state and pause reason are the only mutable
// lifecycle fields.
type Habit struct {
    ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
    UserID       primitive.ObjectID `bson:"user_id" json:"user_id"`
    Name         string             `bson:"name" json:"name"`
    Category     HabitCategory      `bson:"category" json:"category"`
    IsActive     bool               `bson:"is_active" json:"is_active"`
    PauseReason  string             `bson:"pause_reason,omitempty" json:"pause_reason,omitempty"`
    DisplayOrder int                `bson:"display_order" json:"display_order"`
    CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// CompletionEvent records a single habit completion for one calendar
// day. Dates are YYYY-MM-DD strings in the owner's logical day so a
// completion never drifts across midnight with timezone math. At most
// one event exists per (habit, date).
type CompletionEvent struct {
    ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
    HabitID       primitive.ObjectID `bson:"habit_id" json:"habit_id"`
    UserID        primitive.ObjectID `bson:"user_id" json:"user_id"`
    CompletedDate string             `bson:"completed_date" json:"completed_date"`
    Completed     bool               `bson:"completed" json:"completed"`
    CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// DisruptionType is the kind of life disruption an episode represents.
type DisruptionType string

const (
    DisruptionTravel  DisruptionType = "travel"
    DisruptionStress  DisruptionType = "stress"
    DisruptionFatigue DisruptionType = "fatigue"
    DisruptionIllness DisruptionType = "illness"
    DisruptionManual  DisruptionType = "manual"
)

// Valid reports whether t is one of the known disruption types.
func (t DisruptionType) Valid() bool {
    switch t {
    case DisruptionTravel, DisruptionStress, DisruptionFatigue, DisruptionIllness, DisruptionManual:
        return true
    }
    return false
}

// DisruptionEpisode is a time-bounded disruption. EndedAt == nil means
// the episode is still open; at most one open episode exists per user.
type DisruptionEpisode struct {
    ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
    UserID       primitive.ObjectID   `bson:"user_id" json:"user_id"`
    Type         DisruptionType       `bson:"disruption_type" json:"disruption_type"`
    StartedAt    time.Time            `bson:"started_at" json:"started_at"`
    EndedAt      *time.Time           `bson:"ended_at" json:"ended_at"`
    RecoveryPlan string               `bson:"recovery_plan,omitempty" json:"recovery_plan,omitempty"`
    PausedHabits []primitive.ObjectID `bson:"paused_habits" json:"paused_habits"`
}

// Open reports whether the episode has not been ended yet.
func (e *DisruptionEpisode) Open() bool {
    return e.EndedAt == nil
}

// DailyLog is one journal entry per (user, date) with an optional mood
// rating and whatever disruption metadata the classifier attached.
type DailyLog struct {
    ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
    UserID         primitive.ObjectID `bson:"user_id" json:"user_id"`
    LogDate        string             `bson:"log_date" json:"log_date"`
    Mood           *int               `bson:"mood" json:"mood"`
    Notes          string             `bson:"notes" json:"notes"`
    DisruptionType DisruptionType     `bson:"disruption_type,omitempty" json:"disruption_type,omitempty"`
    RecoveryPlan   string             `bson:"recovery_plan,omitempty" json:"recovery_plan,omitempty"`
    DetectedAt     *time.Time         `bson:"disruption_detected_at,omitempty" json:"disruption_detected_at,omitempty"`
    CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
    UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// HabitStreak pairs a habit with its current streak for reporting.
type HabitStreak struct {
    HabitID   primitive.ObjectID `json:"habit_id"`
    HabitName string             `json:"habit_name"`
    Streak    int                `json:"streak"`
}

// MoodPoint is one dated mood reading in a mood history series.
type MoodPoint struct {
    Date string `json:"date"`
    Mood int    `json:"mood"`
}

// AnalyticsSnapshot is a derived report; it is always recomputed from
// the raw event streams and never persisted.
//
// CurrentStreakSum is the sum of every habit's current streak, not a
// single streak in the everyday sense; the name follows the report
// field it feeds. CompletionRate divides completions in the trailing
// 30 days by (current active habit count * 30) -- a fixed ideal
// denominator, so the rate can exceed 1.0 when habits were activated
// partway through the window. That approximation is deliberate and
// user-visible; changing it changes the numbers users see.
type AnalyticsSnapshot struct {
    AverageMood      float64       `json:"average_mood"`
    LongestStreak    int           `json:"longest_streak"`
    CurrentStreakSum int           `json:"current_streak"`
    TotalCompletions int           `json:"total_completions"`
    DisruptionCount  int           `json:"disruption_count"`
    CompletionRate   float64       `json:"completion_rate"`
    StreaksByHabit   []HabitStreak `json:"streaks_by_habit"`
    MoodHistory      []MoodPoint   `json:"mood_history"`
}

// ExportRow is one row of the flat export projection handed to
// external CSV rendering. It is a read-only view over the ledger.
type ExportRow struct {
    HabitName string `json:"habit_name"`
    Category  string `json:"category"`
    Date      string `json:"date"`
    Completed bool   `json:"completed"`
    Streak    int    `json:"streak"`
}
