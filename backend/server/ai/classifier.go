package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jghoshh/habitgrove/core/intake"
	"github.com/jghoshh/habitgrove/models"
)

// classifierPrompt instructs the model to answer with bare JSON so the
// verdict can be parsed mechanically.
const classifierPrompt = `Analyze this daily log note and determine if it indicates a disruption. Return JSON only: {"disruption_type": "travel"|"stress"|"fatigue"|"illness"|null, "recovery_plan": "brief suggestion or null"}`

// classifierVerdict is the JSON shape the model is asked to return.
type classifierVerdict struct {
	DisruptionType *string `json:"disruption_type"`
	RecoveryPlan   *string `json:"recovery_plan"`
}

// Classify asks the gateway whether a note describes a disruption.
// An unconfigured client reports no detection without calling out.
// A verdict naming an unknown disruption type is treated as no
// detection rather than an error.
func (c *Client) Classify(ctx context.Context, notes string) (intake.Detection, error) {
	if !c.Configured() {
		return intake.Detection{}, nil
	}

	content, err := c.chat(ctx, classifierPrompt, notes, 150)
	if err != nil {
		return intake.Detection{}, err
	}

	var verdict classifierVerdict
	if err := json.Unmarshal([]byte(stripFence(content)), &verdict); err != nil {
		// The model ignored the format instructions; treat as no detection.
		return intake.Detection{}, nil
	}
	if verdict.DisruptionType == nil {
		return intake.Detection{}, nil
	}

	dtype := models.DisruptionType(strings.ToLower(strings.TrimSpace(*verdict.DisruptionType)))
	if !dtype.Valid() {
		return intake.Detection{}, nil
	}

	detection := intake.Detection{Type: dtype, Detected: true}
	if verdict.RecoveryPlan != nil {
		detection.RecoveryPlan = strings.TrimSpace(*verdict.RecoveryPlan)
	}
	return detection, nil
}

// stripFence removes a markdown code fence that models often wrap JSON
// answers in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
