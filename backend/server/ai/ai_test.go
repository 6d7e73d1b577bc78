package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jghoshh/habitgrove/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateway spins up a fake chat-completions endpoint that always
// answers with the given content.
func gateway(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			body := `{"choices":[{"message":{"content":` + jsonString(content) + `}}]}`
			w.Write([]byte(body))
		}
	}))
}

// jsonString quotes a string as a JSON literal without pulling in a
// marshal round trip at every call site.
func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestClassifyDetectsDisruption(t *testing.T) {
	srv := gateway(t, http.StatusOK, `{"disruption_type": "travel", "recovery_plan": "keep one keystone"}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	detection, err := c.Classify(context.Background(), "flying out for two weeks")
	require.NoError(t, err)
	assert.True(t, detection.Detected)
	assert.Equal(t, models.DisruptionTravel, detection.Type)
	assert.Equal(t, "keep one keystone", detection.RecoveryPlan)
}

func TestClassifyHandlesFencedJSON(t *testing.T) {
	srv := gateway(t, http.StatusOK, "```json\n{\"disruption_type\": \"stress\", \"recovery_plan\": null}\n```")
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	detection, err := c.Classify(context.Background(), "deadline crunch all week")
	require.NoError(t, err)
	assert.True(t, detection.Detected)
	assert.Equal(t, models.DisruptionStress, detection.Type)
	assert.Empty(t, detection.RecoveryPlan)
}

func TestClassifyNullTypeMeansNoDetection(t *testing.T) {
	srv := gateway(t, http.StatusOK, `{"disruption_type": null, "recovery_plan": null}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	detection, err := c.Classify(context.Background(), "a perfectly ordinary day")
	require.NoError(t, err)
	assert.False(t, detection.Detected)
}

func TestClassifyUnparsableAnswerMeansNoDetection(t *testing.T) {
	srv := gateway(t, http.StatusOK, "I think this might be travel related.")
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	detection, err := c.Classify(context.Background(), "off to the airport")
	require.NoError(t, err)
	assert.False(t, detection.Detected)
}

func TestClassifyUnknownTypeMeansNoDetection(t *testing.T) {
	srv := gateway(t, http.StatusOK, `{"disruption_type": "vacation", "recovery_plan": null}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	detection, err := c.Classify(context.Background(), "two weeks off")
	require.NoError(t, err)
	assert.False(t, detection.Detected)
}

func TestClassifyUnconfiguredClientIsNoOp(t *testing.T) {
	c := NewClient("http://localhost:0", "")
	detection, err := c.Classify(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.False(t, detection.Detected)
}

func TestClassifyGatewayErrorSurfaces(t *testing.T) {
	srv := gateway(t, http.StatusTooManyRequests, "")
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.Classify(context.Background(), "long enough note")
	assert.Error(t, err)
}

func TestSuggestParsesHeadlineAndTips(t *testing.T) {
	content := "Anchor everything to your morning run.\n" +
		"- After your run, journal for two minutes\n" +
		"1. Lay out your gear the night before\n" +
		"* ok\n" +
		"- Keep your keystone even when traveling\n"
	srv := gateway(t, http.StatusOK, content)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	got := c.Suggest(context.Background(), []models.Habit{{Name: "Run", Category: models.CategoryKeystone}}, false)
	assert.Equal(t, "Anchor everything to your morning run.", got.Suggestion)
	require.Len(t, got.Tips, 3, "short lines are filtered out")
	assert.Equal(t, "After your run, journal for two minutes", got.Tips[0])
	assert.Equal(t, "Lay out your gear the night before", got.Tips[1])
}

func TestSuggestFallsBackOnGatewayFailure(t *testing.T) {
	srv := gateway(t, http.StatusInternalServerError, "")
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	got := c.Suggest(context.Background(), nil, false)
	assert.Equal(t, FallbackSuggestion, got.Suggestion)
	assert.Equal(t, FallbackTips, got.Tips)
}

func TestSuggestFallsBackWithoutKey(t *testing.T) {
	c := NewClient("http://localhost:0", "")
	got := c.Suggest(context.Background(), nil, true)
	assert.Equal(t, FallbackSuggestion, got.Suggestion)
	assert.Equal(t, FallbackTips, got.Tips)
}
