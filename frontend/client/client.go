package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/habitgrove/lib/utils"
	"github.com/jghoshh/habitgrove/models"
	"github.com/zalando/go-keyring"
)

// jwtSigningKey is used to sign and verify JWT tokens.
var jwtSigningKey string

// KeyringKey is used to store and retrieve the JWT token from the system keyring.
var KeyringKey string

// RefreshKeyringKey is used to store and retrieve the refresh token from the system keyring.
var RefreshKeyringKey string

// ServerURL is the URL of the server the client is connecting to.
var ServerURL string

// client is the HTTP client used to make requests to the server.
var client = &http.Client{}

// KeyringService is the name of the service in the system keyring where the JWT token and refresh token are stored.
const KeyringService = "Habitgrove"

// TokenResult is a struct that represents the result of a request to an auth service, such as SignIn or SignUp.
type TokenResult struct {
	Token        string
	RefreshToken string
}

// InitClient initializes the jwtSigningKey, keyring keys and server URL.
// This function must be called before using any other functions in the package.
func InitClient(serverURL, signingKey, authToken, authTokenRefresh string) {
	jwtSigningKey = signingKey
	KeyringKey = authToken
	RefreshKeyringKey = authTokenRefresh
	ServerURL = serverURL
}

// decodeJWT decodes a JWT token and returns the claims contained within it.
// It returns an error if the token is invalid.
// Returns the claims if the token is valid, else an error.
func decodeJWT(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
		}
		return []byte(jwtSigningKey), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// claimsFromExpired extracts the claims from a token without requiring
// it to still be valid, used to recover the user id for a refresh.
func claimsFromExpired(tokenStr string) (jwt.MapClaims, error) {
	parser := &jwt.Parser{SkipClaimsValidation: true}
	token, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// isJwtTokenInKeyring checks if the system keyring contains a JWT token.
// Returns 'true' and the token if it exists, 'false' and an empty string if it doesn't.
// Returns an error if there was a problem accessing the keyring.
func isJwtTokenInKeyring() (bool, string, error) {
	jwtToken, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return false, "", nil
		}
		return false, "", errors.New("failed to access keyring: " + err.Error())
	}
	return true, jwtToken, nil
}

// ClearKeyring clears the JWT token and refresh token from the system keyring atomically.
// Returns an error if there was a problem accessing or clearing the keyring.
func ClearKeyring() error {
	accessToken, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		return errors.New("failed to retrieve access token from keyring: " + err.Error())
	}

	err = keyring.Delete(KeyringService, KeyringKey)
	if err != nil {
		return errors.New("failed to delete access token from keyring: " + err.Error())
	}

	err = keyring.Delete(KeyringService, RefreshKeyringKey)
	if err != nil {
		keyring.Set(KeyringService, KeyringKey, accessToken)
		return errors.New("failed to delete refresh token from keyring: " + err.Error())
	}

	return nil
}

// IsUserAuthenticated checks if the user is authenticated by checking if a valid JWT token
// exists in the system keyring. If a valid token is found, it returns the token, else it
// returns an empty string. If the token is expired or invalid, it tries to refresh the
// token using the refresh token.
func IsUserAuthenticated() (string, error) {

	hasJwt, tokenStr, err := isJwtTokenInKeyring()

	if err != nil {
		return "", err
	}

	if !hasJwt {
		return "", nil
	}

	_, err = decodeJWT(tokenStr)
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorExpired != 0 {
				newToken, refreshErr := RefreshAccessToken(tokenStr)
				if refreshErr != nil {
					return "", refreshErr
				}
				return newToken, nil
			}
		}
		return "", err
	}

	return tokenStr, nil
}

// errorBody is the error envelope the server uses.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// sendRequest sends a JSON request to the server and decodes the
// response into out (which may be nil for empty responses). A non-2xx
// status is turned into an error carrying the server's message.
func sendRequest(method, path string, token *string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, ServerURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != nil {
		req.Header.Add("Authorization", "Bearer "+*token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorBody
		if err := json.Unmarshal(bodyBytes, &envelope); err == nil && envelope.Error != "" {
			return errors.New(envelope.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return err
		}
	}
	return nil
}

// authedRequest resolves the current token and sends the request with it.
func authedRequest(method, path string, body interface{}, out interface{}) error {
	token, err := IsUserAuthenticated()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no user is currently signed in")
	}
	return sendRequest(method, path, &token, body, out)
}

// storeTokens saves a token pair to the keyring, rolling back the
// access token if the refresh token fails to store.
func storeTokens(token, refreshToken string) error {
	if err := keyring.Set(KeyringService, KeyringKey, token); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := keyring.Set(KeyringService, RefreshKeyringKey, refreshToken); err != nil {
			keyring.Delete(KeyringService, KeyringKey)
			return err
		}
	}
	return nil
}

type tokenResponse struct {
	AuthToken    string `json:"auth_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshAccessToken attempts to refresh the JWT token using the refresh token.
// Returns the refreshed token if successful, else an error.
func RefreshAccessToken(tokenStr string) (string, error) {

	refreshToken, err := keyring.Get(KeyringService, RefreshKeyringKey)
	if err != nil {
		return "", err
	}

	claims, err := claimsFromExpired(tokenStr)
	if err != nil {
		return "", err
	}
	userID, _ := claims["id"].(string)

	var resp tokenResponse
	err = sendRequest(http.MethodPost, "/auth/refresh", nil, map[string]string{
		"user_id":       userID,
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return "", err
	}

	if err := storeTokens(resp.AuthToken, resp.RefreshToken); err != nil {
		return "", err
	}
	return resp.AuthToken, nil
}

// SignIn attempts to sign in a user with the provided username and password.
// Returns the JWT token and refresh token if the sign in was successful, else an error.
func SignIn(username, password string) (string, string, error) {

	isSignedIn, _, err := isJwtTokenInKeyring()
	if err != nil {
		return "", "", err
	}
	if isSignedIn {
		return "", "", errors.New("a user is already signed in")
	}

	var resp tokenResponse
	err = sendRequest(http.MethodPost, "/auth/signin", nil, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return "", "", err
	}

	if err := storeTokens(resp.AuthToken, resp.RefreshToken); err != nil {
		return "", "", err
	}
	return resp.AuthToken, resp.RefreshToken, nil
}

// SignUp attempts to register a new user with the provided username, email and password.
// Returns the JWT token and refresh token if the sign up was successful, else an error.
func SignUp(username, email, password string) (string, string, error) {

	isSignedIn, _, err := isJwtTokenInKeyring()
	if err != nil {
		return "", "", err
	}
	if isSignedIn {
		return "", "", errors.New("a user is already signed in")
	}

	if !utils.ValidateEmail(email) {
		return "", "", errors.New("invalid email format")
	}

	var resp tokenResponse
	err = sendRequest(http.MethodPost, "/auth/signup", nil, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return "", "", err
	}

	if err := storeTokens(resp.AuthToken, resp.RefreshToken); err != nil {
		return "", "", err
	}
	return resp.AuthToken, resp.RefreshToken, nil
}

// SignOut signs the current user out by clearing the keyring.
func SignOut() error {
	token, err := IsUserAuthenticated()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no user is currently signed in")
	}
	return ClearKeyring()
}

// --- habits ---

// ListHabits returns the signed-in user's habits in display order.
func ListHabits() ([]models.Habit, error) {
	var habits []models.Habit
	if err := authedRequest(http.MethodGet, "/habits", nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// AddHabit creates a new habit with the given name and category.
func AddHabit(name, category string) (*models.Habit, error) {
	var habit models.Habit
	err := authedRequest(http.MethodPost, "/habits", map[string]string{
		"name":     name,
		"category": category,
	}, &habit)
	if err != nil {
		return nil, err
	}
	return &habit, nil
}

// DeleteHabit removes a habit and its completion history.
func DeleteHabit(id string) error {
	return authedRequest(http.MethodDelete, "/habits/"+id, nil, nil)
}

// ToggleHabit flips a habit between active and inactive.
func ToggleHabit(id string) (*models.Habit, error) {
	var habit models.Habit
	if err := authedRequest(http.MethodPost, "/habits/"+id+"/toggle", nil, &habit); err != nil {
		return nil, err
	}
	return &habit, nil
}

// PauseHabit deactivates a habit recording the given reason.
func PauseHabit(id, reason string) error {
	return authedRequest(http.MethodPost, "/habits/"+id+"/pause", map[string]string{"reason": reason}, nil)
}

// ExpectedHabits returns the habits the user is expected to do right
// now, accounting for disruption state.
func ExpectedHabits() ([]models.Habit, error) {
	var habits []models.Habit
	if err := authedRequest(http.MethodGet, "/habits/expected", nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// --- completions ---

// CompletionResult reports the state of a day after a toggle.
type CompletionResult struct {
	Completed bool `json:"completed"`
	Streak    int  `json:"streak"`
}

// ToggleCompletion flips the completion state of a habit for a day.
func ToggleCompletion(habitID, date string) (*CompletionResult, error) {
	var result CompletionResult
	err := authedRequest(http.MethodPost, "/completions/toggle", map[string]string{
		"habit_id": habitID,
		"date":     date,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- plant health ---

// PlantHealth returns the 0-100 vigor score of the user's plant.
func PlantHealth() (int, error) {
	var resp struct {
		Health int `json:"health"`
	}
	if err := authedRequest(http.MethodGet, "/plant-health", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Health, nil
}

// --- disruption ---

// DisruptionState is the user's current disruption status.
type DisruptionState struct {
	Disrupted bool                      `json:"disrupted"`
	Episode   *models.DisruptionEpisode `json:"episode"`
}

// ActiveDisruption returns the open episode, if any.
func ActiveDisruption() (*DisruptionState, error) {
	var state DisruptionState
	if err := authedRequest(http.MethodGet, "/disruption", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// StartDisruption opens a disruption episode of the given type.
func StartDisruption(dtype, recoveryPlan string) (*models.DisruptionEpisode, error) {
	var episode models.DisruptionEpisode
	err := authedRequest(http.MethodPost, "/disruption/start", map[string]string{
		"type":          dtype,
		"recovery_plan": recoveryPlan,
	}, &episode)
	if err != nil {
		return nil, err
	}
	return &episode, nil
}

// EndDisruption closes the open episode, if any.
func EndDisruption() (*DisruptionState, error) {
	var state DisruptionState
	if err := authedRequest(http.MethodPost, "/disruption/end", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ToggleDisruption flips the disruption state.
func ToggleDisruption() (*DisruptionState, error) {
	var state DisruptionState
	if err := authedRequest(http.MethodPost, "/disruption/toggle", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// DisruptionHistory lists the user's past and present episodes.
func DisruptionHistory() ([]models.DisruptionEpisode, error) {
	var episodes []models.DisruptionEpisode
	if err := authedRequest(http.MethodGet, "/disruption/history", nil, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// --- daily logs ---

// LogResult is the outcome of saving a daily log.
type LogResult struct {
	Log          *models.DailyLog `json:"log"`
	Detected     bool             `json:"disruption_detected"`
	Type         string           `json:"disruption_type"`
	RecoveryPlan string           `json:"recovery_plan"`
}

// SaveLog upserts the daily log for a date. mood may be nil.
func SaveLog(date string, mood *int, notes string) (*LogResult, error) {
	var result LogResult
	err := authedRequest(http.MethodPut, "/logs", map[string]interface{}{
		"log_date": date,
		"mood":     mood,
		"notes":    notes,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecentLogs lists the most recent daily logs.
func RecentLogs() ([]models.DailyLog, error) {
	var logs []models.DailyLog
	if err := authedRequest(http.MethodGet, "/logs", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- analytics, suggestions, export ---

// Analytics returns the user's analytics snapshot.
func Analytics() (*models.AnalyticsSnapshot, error) {
	var snapshot models.AnalyticsSnapshot
	if err := authedRequest(http.MethodGet, "/analytics", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Suggestion is coaching advice returned by the server.
type Suggestion struct {
	Suggestion string   `json:"suggestion"`
	Tips       []string `json:"tips"`
}

// Suggestions returns coaching advice for the user's habit list.
func Suggestions() (*Suggestion, error) {
	var suggestion Suggestion
	if err := authedRequest(http.MethodGet, "/suggestions", nil, &suggestion); err != nil {
		return nil, err
	}
	return &suggestion, nil
}

// Export returns the flat completion rows for CSV rendering.
func Export() ([]models.ExportRow, error) {
	var rows []models.ExportRow
	if err := authedRequest(http.MethodGet, "/export", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
