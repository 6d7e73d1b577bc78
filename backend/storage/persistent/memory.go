package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is an in-memory StorageInterface implementation. It
// backs unit tests and offline runs, and upholds the same invariants
// the MongoDB backend enforces with its indexes and transactions: the
// active-habit cap, at most one open episode per user, and upserts
// keyed on (user, date). All methods are safe for concurrent use.
type MemoryStorage struct {
	mu          sync.Mutex
	users       map[primitive.ObjectID]*models.User
	habits      map[primitive.ObjectID]*models.Habit
	completions map[primitive.ObjectID]*models.CompletionEvent
	logs        map[primitive.ObjectID]*models.DailyLog
	episodes    map[primitive.ObjectID]*models.DisruptionEpisode
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:       make(map[primitive.ObjectID]*models.User),
		habits:      make(map[primitive.ObjectID]*models.Habit),
		completions: make(map[primitive.ObjectID]*models.CompletionEvent),
		logs:        make(map[primitive.ObjectID]*models.DailyLog),
		episodes:    make(map[primitive.ObjectID]*models.DisruptionEpisode),
	}
}

// Connect is a no-op; the memory backend needs no server.
func (s *MemoryStorage) Connect(dbName, uri string) error { return nil }

// Disconnect is a no-op.
func (s *MemoryStorage) Disconnect() error { return nil }

func (s *MemoryStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	copied := *user
	s.users[user.ID] = &copied
	return user, nil
}

func (s *MemoryStorage) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) activeHabitCount(userID primitive.ObjectID) int64 {
	var count int64
	for _, h := range s.habits {
		if h.UserID == userID && h.IsActive {
			count++
		}
	}
	return count
}

func (s *MemoryStorage) AddHabit(ctx context.Context, habit *models.Habit, cap int) (*models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if habit.IsActive && s.activeHabitCount(habit.UserID) >= int64(cap) {
		return nil, domain.E(domain.KindCapacityExceeded, "maximum %d active habits allowed", cap)
	}
	if habit.ID.IsZero() {
		habit.ID = primitive.NewObjectID()
	}
	copied := *habit
	s.habits[habit.ID] = &copied
	return habit, nil
}

func (s *MemoryStorage) FindHabit(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.habits[habitID]
	if !ok || h.UserID != userID {
		return nil, nil
	}
	copied := *h
	return &copied, nil
}

func (s *MemoryStorage) FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var habits []models.Habit
	for _, h := range s.habits {
		if h.UserID == userID {
			habits = append(habits, *h)
		}
	}
	sort.Slice(habits, func(i, j int) bool {
		return habits[i].DisplayOrder < habits[j].DisplayOrder
	})
	return habits, nil
}

func (s *MemoryStorage) HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, h := range s.habits {
		if h.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) CountActiveHabits(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeHabitCount(userID), nil
}

func (s *MemoryStorage) UpdateHabit(ctx context.Context, habit *models.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.habits[habit.ID]
	if !ok || stored.UserID != habit.UserID {
		return domain.E(domain.KindNotFound, "habit %s not found", habit.ID.Hex())
	}
	stored.IsActive = habit.IsActive
	stored.PauseReason = habit.PauseReason
	stored.DisplayOrder = habit.DisplayOrder
	return nil
}

func (s *MemoryStorage) ActivateHabit(ctx context.Context, userID, habitID primitive.ObjectID, cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.habits[habitID]
	if !ok || stored.UserID != userID {
		return domain.E(domain.KindNotFound, "habit %s not found", habitID.Hex())
	}
	if !stored.IsActive && s.activeHabitCount(userID) >= int64(cap) {
		return domain.E(domain.KindCapacityExceeded, "maximum %d active habits allowed", cap)
	}
	stored.IsActive = true
	stored.PauseReason = ""
	return nil
}

func (s *MemoryStorage) DeleteHabit(ctx context.Context, userID, habitID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.habits[habitID]; !ok || h.UserID != userID {
		return nil
	}
	delete(s.habits, habitID)

	for id, ev := range s.completions {
		if ev.HabitID == habitID {
			delete(s.completions, id)
		}
	}

	for _, ep := range s.episodes {
		if ep.UserID != userID {
			continue
		}
		var kept []primitive.ObjectID
		for _, id := range ep.PausedHabits {
			if id != habitID {
				kept = append(kept, id)
			}
		}
		ep.PausedHabits = kept
	}
	return nil
}

func (s *MemoryStorage) FindCompletion(ctx context.Context, userID, habitID primitive.ObjectID, date string) (*models.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.completions {
		if ev.UserID == userID && ev.HabitID == habitID && ev.CompletedDate == date {
			copied := *ev
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) AddCompletion(ctx context.Context, ev *models.CompletionEvent) (*models.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	copied := *ev
	s.completions[ev.ID] = &copied
	return ev, nil
}

func (s *MemoryStorage) MarkCompletion(ctx context.Context, id primitive.ObjectID, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.completions[id]
	if !ok {
		return domain.E(domain.KindNotFound, "completion %s not found", id.Hex())
	}
	ev.Completed = completed
	return nil
}

func (s *MemoryStorage) DeleteCompletion(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.completions, id)
	return nil
}

func (s *MemoryStorage) FindCompletionsByHabit(ctx context.Context, habitID primitive.ObjectID) ([]models.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.CompletionEvent
	for _, ev := range s.completions {
		if ev.HabitID == habitID {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (s *MemoryStorage) FindCompletions(ctx context.Context, userID primitive.ObjectID) ([]models.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.CompletionEvent
	for _, ev := range s.completions {
		if ev.UserID == userID {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (s *MemoryStorage) UpsertDailyLog(ctx context.Context, log *models.DailyLog) (*models.DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.logs {
		if stored.UserID == log.UserID && stored.LogDate == log.LogDate {
			stored.Mood = log.Mood
			stored.Notes = log.Notes
			stored.UpdatedAt = log.UpdatedAt
			copied := *stored
			return &copied, nil
		}
	}

	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	copied := *log
	s.logs[log.ID] = &copied
	saved := copied
	return &saved, nil
}

func (s *MemoryStorage) MergeLogClassification(ctx context.Context, userID primitive.ObjectID, date string, dtype models.DisruptionType, plan string, detectedAt time.Time) (*models.DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.logs {
		if stored.UserID == userID && stored.LogDate == date {
			stored.DisruptionType = dtype
			stored.RecoveryPlan = plan
			at := detectedAt
			stored.DetectedAt = &at
			copied := *stored
			return &copied, nil
		}
	}
	return nil, domain.E(domain.KindNotFound, "no log for %s on %s", userID.Hex(), date)
}

func (s *MemoryStorage) FindDailyLog(ctx context.Context, userID primitive.ObjectID, date string) (*models.DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.logs {
		if stored.UserID == userID && stored.LogDate == date {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) FindDailyLogs(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var logs []models.DailyLog
	for _, stored := range s.logs {
		if stored.UserID == userID {
			logs = append(logs, *stored)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].LogDate > logs[j].LogDate
	})
	if limit > 0 && int64(len(logs)) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *MemoryStorage) AddEpisode(ctx context.Context, ep *models.DisruptionEpisode) (*models.DisruptionEpisode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.episodes {
		if stored.UserID == ep.UserID && stored.EndedAt == nil {
			return nil, domain.E(domain.KindAlreadyDisrupted, "a disruption episode is already open")
		}
	}
	if ep.ID.IsZero() {
		ep.ID = primitive.NewObjectID()
	}
	copied := *ep
	copied.PausedHabits = append([]primitive.ObjectID(nil), ep.PausedHabits...)
	s.episodes[ep.ID] = &copied
	return ep, nil
}

func (s *MemoryStorage) FindOpenEpisode(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.episodes {
		if stored.UserID == userID && stored.EndedAt == nil {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) FindEpisodes(ctx context.Context, userID primitive.ObjectID) ([]models.DisruptionEpisode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var episodes []models.DisruptionEpisode
	for _, stored := range s.episodes {
		if stored.UserID == userID {
			episodes = append(episodes, *stored)
		}
	}
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].StartedAt.After(episodes[j].StartedAt)
	})
	return episodes, nil
}

func (s *MemoryStorage) CloseEpisode(ctx context.Context, userID primitive.ObjectID, endedAt time.Time) (*models.DisruptionEpisode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.episodes {
		if stored.UserID == userID && stored.EndedAt == nil {
			at := endedAt
			stored.EndedAt = &at
			copied := *stored
			return &copied, nil
		}
	}
	return nil, nil
}
