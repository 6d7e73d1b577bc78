// Package intake is the contract between a daily log entry and the
// external disruption classifier. Classification is an enhancement on
// top of saving the log, never a precondition: the log write is the
// record of truth, and anything derived from the classifier degrades
// away silently on failure.
package intake

import (
	"context"
	"strings"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// minNotesLength is the threshold below which a note is too trivial to
// send to the classifier.
const minNotesLength = 10

// defaultTimeout bounds the classifier call so it can never stall the
// log-save path indefinitely.
const defaultTimeout = 10 * time.Second

// Detection is the classifier's verdict on a note.
type Detection struct {
	Type         models.DisruptionType
	RecoveryPlan string
	Detected     bool
}

// Classifier is the unreliable remote collaborator that reads a note
// and maybe names a disruption. Implementations must respect ctx
// cancellation.
type Classifier interface {
	Classify(ctx context.Context, notes string) (Detection, error)
}

// LogStore is the slice of the persistence contract the intake needs.
type LogStore interface {
	UpsertDailyLog(ctx context.Context, log *models.DailyLog) (*models.DailyLog, error)
	MergeLogClassification(ctx context.Context, userID primitive.ObjectID, date string, dtype models.DisruptionType, plan string, detectedAt time.Time) (*models.DailyLog, error)
	FindDailyLog(ctx context.Context, userID primitive.ObjectID, date string) (*models.DailyLog, error)
	FindDailyLogs(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.DailyLog, error)
}

// EpisodeOpener opens a disruption episode from a positive
// classification. Only the disruption state machine implements this.
type EpisodeOpener interface {
	Start(ctx context.Context, userID primitive.ObjectID, dtype models.DisruptionType, recoveryPlan string, pausedHabitIDs []primitive.ObjectID) (*models.DisruptionEpisode, error)
}

// Intake saves daily logs and feeds non-trivial notes through the
// classifier.
type Intake struct {
	logs       LogStore
	machine    EpisodeOpener
	classifier Classifier
	timeout    time.Duration
	now        func() time.Time
}

// New creates an Intake. classifier may be nil, in which case every
// log saves without disruption metadata.
func New(logs LogStore, machine EpisodeOpener, classifier Classifier) *Intake {
	return &Intake{
		logs:       logs,
		machine:    machine,
		classifier: classifier,
		timeout:    defaultTimeout,
		now:        time.Now,
	}
}

// Result is what a log save produced: the stored log plus whatever the
// classifier detected, if anything.
type Result struct {
	Log          *models.DailyLog      `json:"log"`
	Detected     bool                  `json:"disruption_detected"`
	Type         models.DisruptionType `json:"disruption_type,omitempty"`
	RecoveryPlan string                `json:"recovery_plan,omitempty"`
}

// SaveLog upserts the log for (user, date) and then, for a note above
// the trivial threshold, asks the classifier about it under a bounded
// timeout. A positive verdict is merged into the stored log and opens
// a disruption episode; if an episode is already open the verdict
// stays on the log and the open episode is untouched. Classifier
// failure of any kind leaves the saved log as-is.
func (i *Intake) SaveLog(ctx context.Context, userID primitive.ObjectID, date string, mood *int, notes string) (*Result, error) {
	if _, err := utils.ParseDay(date); err != nil {
		return nil, domain.E(domain.KindInvalidInput, "invalid date %q, want YYYY-MM-DD", date)
	}
	if mood != nil && (*mood < 1 || *mood > 5) {
		return nil, domain.E(domain.KindInvalidInput, "mood must be between 1 and 5")
	}

	now := i.now()
	saved, err := i.logs.UpsertDailyLog(ctx, &models.DailyLog{
		UserID:    userID,
		LogDate:   date,
		Mood:      mood,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Log: saved}
	if i.classifier == nil || len(strings.TrimSpace(notes)) <= minNotesLength {
		return result, nil
	}

	cctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	detection, err := i.classifier.Classify(cctx, notes)
	if err != nil || !detection.Detected {
		return result, nil
	}

	result.Detected = true
	result.Type = detection.Type
	result.RecoveryPlan = detection.RecoveryPlan

	// Both writes below are derived from the verdict; neither may fail
	// the save that already happened.
	merged, err := i.logs.MergeLogClassification(ctx, userID, date, detection.Type, detection.RecoveryPlan, i.now())
	if err == nil {
		result.Log = merged
	}

	// If an episode is already open this fails with ALREADY_DISRUPTED
	// and the verdict stays on the log only.
	_, _ = i.machine.Start(ctx, userID, detection.Type, detection.RecoveryPlan, nil)

	return result, nil
}

// LogFor returns the log for (user, date), or nil when none exists.
func (i *Intake) LogFor(ctx context.Context, userID primitive.ObjectID, date string) (*models.DailyLog, error) {
	return i.logs.FindDailyLog(ctx, userID, date)
}

// RecentLogs lists the user's logs newest first, up to limit.
func (i *Intake) RecentLogs(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.DailyLog, error) {
	return i.logs.FindDailyLogs(ctx, userID, limit)
}
