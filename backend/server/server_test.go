package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jghoshh/habitgrove/backend/server/ai"
	"github.com/jghoshh/habitgrove/backend/server/auth"
	storage "github.com/jghoshh/habitgrove/backend/storage/persistent"
	"github.com/jghoshh/habitgrove/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key"

// setupServer stands up the full REST surface over in-memory storage,
// with no cache, queue, or AI gateway attached.
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := storage.NewMemoryStorage()
	auth.InitAuth(store, testSigningKey)

	s := NewServer(Config{Store: store})
	handler := recoveryMiddleware(jwtMiddleware(testSigningKey, s.Router()))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// call sends a JSON request and decodes the response body into out.
func call(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}

	req, err := http.NewRequest(method, srv.URL+path, &reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// signUp registers a fresh user and returns an auth token.
func signUp(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()

	var tokens tokenResponse
	status := call(t, srv, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "Test1234",
	}, &tokens)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, tokens.AuthToken)
	return tokens.AuthToken
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	srv := setupServer(t)

	status := call(t, srv, http.MethodGet, "/habits", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSignInWithWrongPassword(t *testing.T) {
	srv := setupServer(t)
	signUp(t, srv, "wrongpass")

	status := call(t, srv, http.MethodPost, "/auth/signin", "", map[string]string{
		"username": "wrongpass",
		"password": "Nope1234",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHabitLifecycleOverREST(t *testing.T) {
	srv := setupServer(t)
	token := signUp(t, srv, "lifecycle")

	// Three active habits fit; the fourth conflicts.
	var habits []models.Habit
	for i, name := range []string{"Run", "Read", "Sleep"} {
		var habit models.Habit
		category := "keystone"
		if i > 0 {
			category = "baseline"
		}
		status := call(t, srv, http.MethodPost, "/habits", token, map[string]string{
			"name":     name,
			"category": category,
		}, &habit)
		require.Equal(t, http.StatusCreated, status)
		habits = append(habits, habit)
	}

	var errResp errorResponse
	status := call(t, srv, http.MethodPost, "/habits", token, map[string]string{
		"name":     "Meditate",
		"category": "baseline",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CAPACITY_EXCEEDED", errResp.Code)

	// Bad category is a 400.
	status = call(t, srv, http.MethodPost, "/habits", token, map[string]string{
		"name":     "Nap",
		"category": "daily",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var listed []models.Habit
	status = call(t, srv, http.MethodGet, "/habits", token, nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 3)

	// Toggle a completion and read the streak back.
	var toggled toggleCompletionResponse
	status = call(t, srv, http.MethodPost, "/completions/toggle", token, map[string]string{
		"habit_id": habits[0].ID.Hex(),
		"date":     "2025-08-01",
	}, &toggled)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, toggled.Completed)
	assert.Equal(t, 1, toggled.Streak)

	status = call(t, srv, http.MethodDelete, "/habits/"+habits[2].ID.Hex(), token, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestDisruptionFlowOverREST(t *testing.T) {
	srv := setupServer(t)
	token := signUp(t, srv, "disruptee")

	var keystone, baseline models.Habit
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/habits", token,
		map[string]string{"name": "Meditate", "category": "keystone"}, &keystone))
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/habits", token,
		map[string]string{"name": "Journal", "category": "baseline"}, &baseline))

	// Toggle on: a manual episode opens and pauses the baseline.
	var state disruptionStateResponse
	status := call(t, srv, http.MethodPost, "/disruption/toggle", token, nil, &state)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, state.Disrupted)
	require.NotNil(t, state.Episode)
	assert.Equal(t, models.DisruptionManual, state.Episode.Type)

	// Starting another on top conflicts.
	var errResp errorResponse
	status = call(t, srv, http.MethodPost, "/disruption/start", token, map[string]string{
		"type": "travel",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_DISRUPTED", errResp.Code)

	// Only the keystone is expected while disrupted.
	var expected []models.Habit
	status = call(t, srv, http.MethodGet, "/habits/expected", token, nil, &expected)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, expected, 1)
	assert.Equal(t, "Meditate", expected[0].Name)

	// End it and everything comes back.
	status = call(t, srv, http.MethodPost, "/disruption/end", token, nil, &state)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, state.Disrupted)

	status = call(t, srv, http.MethodGet, "/habits/expected", token, nil, &expected)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, expected, 2)

	var history []models.DisruptionEpisode
	status = call(t, srv, http.MethodGet, "/disruption/history", token, nil, &history)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, history, 1)
}

func TestLogsAnalyticsAndSuggestionsOverREST(t *testing.T) {
	srv := setupServer(t)
	token := signUp(t, srv, "journaler")

	var habit models.Habit
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/habits", token,
		map[string]string{"name": "Run", "category": "keystone"}, &habit))

	status := call(t, srv, http.MethodPut, "/logs", token, map[string]interface{}{
		"log_date": "2025-08-01",
		"mood":     4,
		"notes":    "good",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	// Out-of-range mood is rejected.
	status = call(t, srv, http.MethodPut, "/logs", token, map[string]interface{}{
		"log_date": "2025-08-01",
		"mood":     9,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var log models.DailyLog
	status = call(t, srv, http.MethodGet, "/logs/2025-08-01", token, nil, &log)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, *log.Mood)

	status = call(t, srv, http.MethodGet, "/logs/2024-01-01", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var snapshot models.AnalyticsSnapshot
	status = call(t, srv, http.MethodGet, "/analytics", token, nil, &snapshot)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4.0, snapshot.AverageMood)

	// With no AI gateway wired, suggestions degrade to the fallback.
	var suggestion ai.Suggestion
	status = call(t, srv, http.MethodGet, "/suggestions", token, nil, &suggestion)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ai.FallbackSuggestion, suggestion.Suggestion)
	assert.Equal(t, ai.FallbackTips, suggestion.Tips)

	var rows []models.ExportRow
	status = call(t, srv, http.MethodGet, "/export", token, nil, &rows)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, rows)
}
