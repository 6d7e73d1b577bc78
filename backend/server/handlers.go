package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jghoshh/habitgrove/backend/queue"
	"github.com/jghoshh/habitgrove/backend/server/ai"
	"github.com/jghoshh/habitgrove/backend/server/auth"
	contextKey "github.com/jghoshh/habitgrove/backend/server/context_key"
	cache "github.com/jghoshh/habitgrove/backend/storage/cache"
	"github.com/jghoshh/habitgrove/core/analytics"
	"github.com/jghoshh/habitgrove/core/disruption"
	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/core/health"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// analyticsTTL bounds staleness of the cached analytics snapshot.
	// Change events drop the entry earlier when a write lands.
	analyticsTTL = 5 * time.Minute

	// suggestionsTTL keeps coaching advice stable for a few days, both
	// to limit gateway spend and so the advice doesn't churn daily.
	suggestionsTTL = 72 * time.Hour

	// recentLogsLimit caps the default log listing.
	recentLogsLimit = 30

	// analyticsLogsLimit bounds how many logs feed a snapshot.
	analyticsLogsLimit = 365
)

// writeJSON serializes v to the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("failed to encode response: %v", err)
		}
	}
}

// writeRawJSON writes pre-encoded JSON, used for cache hits.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps domain error kinds onto HTTP statuses. Anything
// without a kind is an internal error and its detail stays out of the
// response.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindInvalidInput:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindCapacityExceeded, domain.KindAlreadyDisrupted:
		status = http.StatusConflict
	case domain.KindCollaboratorUnavailable:
		status = http.StatusServiceUnavailable
	}

	msg := "internal server error"
	if kind != "" {
		msg = err.Error()
	} else {
		log.Printf("internal error: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: string(kind)})
}

// userID extracts the authenticated user's id injected by the JWT
// middleware.
func (s *Server) userID(r *http.Request) (primitive.ObjectID, bool) {
	raw, ok := r.Context().Value(contextKey.UserIDKey).(string)
	if !ok {
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}

// requireUser writes a 401 and returns false when the request carries
// no valid identity.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, ok := s.userID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return primitive.NilObjectID, false
	}
	return id, true
}

// publishChange emits a change event for the user's mutation. Failures
// are logged, never surfaced: the queue smooths cache invalidation, it
// does not gate writes.
func (s *Server) publishChange(owner primitive.ObjectID, entity, action, date string) {
	if s.changeQueue == nil {
		return
	}
	event := &queue.ChangeEvent{
		Id:     primitive.NewObjectID().Hex(),
		Entity: entity,
		Action: action,
		Owner:  owner.Hex(),
		Date:   date,
	}
	if err := queue.ProcessChange(event, s.changeQueue); err != nil {
		log.Printf("failed to publish change event: %v", err)
	}
}

// dropCached removes a user's cached derived data directly, covering
// deployments that run without the change queue.
func (s *Server) dropCached(r *http.Request, owner primitive.ObjectID, keys ...string) {
	if s.cache == nil {
		return
	}
	for _, key := range keys {
		if err := s.cache.Delete(r.Context(), key); err != nil {
			log.Printf("failed to drop cache key %s: %v", key, err)
		}
	}
}

// --- auth ---

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AuthToken    string `json:"auth_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	token, refresh, err := auth.SignUp(req.Username, req.Email, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{AuthToken: token, RefreshToken: refresh})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	token, refresh, err := auth.SignIn(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AuthToken: token, RefreshToken: refresh})
}

type refreshRequest struct {
	UserID       string `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	token, refresh, err := auth.RefreshToken(req.UserID, req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AuthToken: token, RefreshToken: refresh})
}

// --- habits ---

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	habits, err := s.registry.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habits)
}

type addHabitRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (s *Server) handleAddHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req addHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	habit, err := s.registry.Add(r.Context(), userID, req.Name, models.HabitCategory(req.Category))
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "habit", "created", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusCreated, habit)
}

// habitID pulls the {id} route variable.
func habitID(r *http.Request) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		return primitive.NilObjectID, domain.E(domain.KindInvalidInput, "invalid habit id")
	}
	return id, nil
}

func (s *Server) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Remove(r.Context(), userID, id); err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "habit", "deleted", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleToggleHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	habit, err := s.registry.ToggleActive(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "habit", "toggled", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusOK, habit)
}

type pauseHabitRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePauseHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req pauseHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.registry.Pause(r.Context(), userID, id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "habit", "paused", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleExpectedHabits(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	habits, err := s.registry.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	episode, err := s.machine.Active(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	expected := disruption.ExpectedHabits(habits, episode != nil)
	if expected == nil {
		expected = []models.Habit{}
	}
	writeJSON(w, http.StatusOK, expected)
}

// --- completions ---

type toggleCompletionRequest struct {
	HabitID string `json:"habit_id"`
	Date    string `json:"date"`
}

type toggleCompletionResponse struct {
	Completed bool `json:"completed"`
	Streak    int  `json:"streak"`
}

func (s *Server) handleToggleCompletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req toggleCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	hid, err := primitive.ObjectIDFromHex(req.HabitID)
	if err != nil {
		writeError(w, domain.E(domain.KindInvalidInput, "invalid habit id"))
		return
	}

	completed, err := s.ledger.Toggle(r.Context(), userID, hid, req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	streak, err := s.ledger.Streak(r.Context(), hid, req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "completion", "toggled", req.Date)
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()))
	writeJSON(w, http.StatusOK, toggleCompletionResponse{Completed: completed, Streak: streak})
}

// --- plant health ---

type plantHealthResponse struct {
	Health int `json:"health"`
}

func (s *Server) handlePlantHealth(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	habits, err := s.registry.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	var active []models.Habit
	for _, h := range habits {
		if h.IsActive {
			active = append(active, h)
		}
	}
	events, err := s.store.FindCompletions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plantHealthResponse{Health: health.Score(active, events, time.Now())})
}

// --- disruption ---

type disruptionStateResponse struct {
	Disrupted bool                      `json:"disrupted"`
	Episode   *models.DisruptionEpisode `json:"episode,omitempty"`
}

func (s *Server) handleActiveDisruption(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	episode, err := s.machine.Active(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disruptionStateResponse{Disrupted: episode != nil, Episode: episode})
}

type startDisruptionRequest struct {
	Type           string   `json:"type"`
	RecoveryPlan   string   `json:"recovery_plan"`
	PausedHabitIDs []string `json:"paused_habit_ids"`
}

func (s *Server) handleStartDisruption(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req startDisruptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// Absent list means "pause the default baseline set"; an explicit
	// empty list pauses nothing.
	var pausedIDs []primitive.ObjectID
	if req.PausedHabitIDs != nil {
		pausedIDs = []primitive.ObjectID{}
		for _, raw := range req.PausedHabitIDs {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				writeError(w, domain.E(domain.KindInvalidInput, "invalid habit id %q", raw))
				return
			}
			pausedIDs = append(pausedIDs, id)
		}
	}

	episode, err := s.machine.Start(r.Context(), userID, models.DisruptionType(req.Type), req.RecoveryPlan, pausedIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "disruption", "created", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusCreated, episode)
}

func (s *Server) handleEndDisruption(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	episode, err := s.machine.End(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "disruption", "updated", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusOK, disruptionStateResponse{Disrupted: false, Episode: episode})
}

func (s *Server) handleToggleDisruption(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	episode, disrupted, err := s.machine.Toggle(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "disruption", "toggled", utils.DayKey(time.Now()))
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()), cache.SuggestionsKey(userID.Hex()))
	writeJSON(w, http.StatusOK, disruptionStateResponse{Disrupted: disrupted, Episode: episode})
}

func (s *Server) handleDisruptionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	episodes, err := s.machine.History(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if episodes == nil {
		episodes = []models.DisruptionEpisode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

// --- daily logs ---

type saveLogRequest struct {
	LogDate string `json:"log_date"`
	Mood    *int   `json:"mood"`
	Notes   string `json:"notes"`
}

func (s *Server) handleSaveLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req saveLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	result, err := s.intake.SaveLog(r.Context(), userID, req.LogDate, req.Mood, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChange(userID, "log", "updated", req.LogDate)
	s.dropCached(r, userID, cache.AnalyticsKey(userID.Hex()))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	date := mux.Vars(r)["date"]
	logEntry, err := s.intake.LogFor(r.Context(), userID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	if logEntry == nil {
		writeError(w, domain.E(domain.KindNotFound, "no log for %s", date))
		return
	}
	writeJSON(w, http.StatusOK, logEntry)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	logs, err := s.intake.RecentLogs(r.Context(), userID, recentLogsLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.DailyLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// --- analytics, suggestions, export ---

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	key := cache.AnalyticsKey(userID.Hex())
	if s.cache != nil {
		if cached, err := s.cache.Get(r.Context(), key); err == nil {
			writeRawJSON(w, http.StatusOK, cached)
			return
		} else if err.Error() != cache.ErrCacheMiss {
			log.Printf("analytics cache read failed: %v", err)
		}
	}

	habits, err := s.registry.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	completions, err := s.store.FindCompletions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.store.FindDailyLogs(r.Context(), userID, analyticsLogsLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	episodes, err := s.store.FindEpisodes(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot := analytics.Build(analytics.Input{
		Habits:      habits,
		Completions: completions,
		Logs:        logs,
		Episodes:    episodes,
	}, time.Now())

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), key, snapshot, analyticsTTL); err != nil {
			log.Printf("analytics cache write failed: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	key := cache.SuggestionsKey(userID.Hex())
	if s.cache != nil {
		if cached, err := s.cache.Get(r.Context(), key); err == nil {
			writeRawJSON(w, http.StatusOK, cached)
			return
		} else if err.Error() != cache.ErrCacheMiss {
			log.Printf("suggestions cache read failed: %v", err)
		}
	}

	habits, err := s.registry.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	episode, err := s.machine.Active(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	suggestion := ai.Suggestion{Suggestion: ai.FallbackSuggestion, Tips: ai.FallbackTips}
	if s.ai != nil {
		suggestion = s.ai.Suggest(r.Context(), habits, episode != nil)
	}

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), key, suggestion, suggestionsTTL); err != nil {
			log.Printf("suggestions cache write failed: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	habits, err := s.registry.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.ledger.Export(r.Context(), habits, utils.DayKey(time.Now()))
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []models.ExportRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}
