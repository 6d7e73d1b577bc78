// Package ai is the client for the chat-completions gateway that backs
// disruption detection and habit suggestions. The gateway is an
// unreliable collaborator: every caller is expected to survive its
// absence, so the package degrades to zero values and fallbacks rather
// than propagating hard failures where it can.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
)

// DefaultModel is the model requested from the gateway when none is
// configured.
const DefaultModel = "google/gemini-3-flash-preview"

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	gatewayURL string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a gateway client. An empty apiKey is allowed and
// turns the client into a no-op collaborator.
func NewClient(gatewayURL, apiKey string) *Client {
	return &Client{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether the client has credentials to call the
// gateway.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat sends one system+user exchange to the gateway and returns the
// first choice's content.
func (c *Client) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.E(domain.KindCollaboratorUnavailable, "ai gateway unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", domain.E(domain.KindCollaboratorUnavailable, "ai gateway returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode ai gateway response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai gateway returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
