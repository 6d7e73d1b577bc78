package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jghoshh/habitgrove/models"
)

// suggestSystemPrompt frames the model as a habit coach. The principles
// below shape every answer, so changing them changes the product voice.
const suggestSystemPrompt = `You are a habit-building coach specializing in resilient habit stacking and behavior design.
You help people build sustainable habits that survive life's disruptions (travel, stress, illness, busy periods).

Key principles you follow:
- Keystone habits are anchors that should be maintained even during disruptions
- Baseline habits support keystones but can be paused during challenging times
- Habit stacking (linking habits together) increases success rates
- Starting small and being consistent beats being ambitious and inconsistent
- Environment design is crucial for habit success

Provide practical, actionable advice. Be encouraging but realistic.`

// FallbackSuggestion is returned when the gateway cannot produce one.
const FallbackSuggestion = "Focus on one keystone habit at a time."

// FallbackTips is returned when the gateway cannot produce tips.
var FallbackTips = []string{
	"Habit stacking: Link new habits to existing ones",
	"During disruptions, maintain only your most important habit",
	"Design your environment to make good habits easy",
	"Track your streaks visually for motivation",
}

// defaultTips backstops a parsed answer whose body yielded no usable
// tip lines.
var defaultTips = []string{
	"Stack habits together for better adherence",
	"Keep your keystone habits during disruptions",
	"Start incredibly small - 2 minutes is better than zero",
}

// Suggestion is coaching advice for a habit list.
type Suggestion struct {
	Suggestion string   `json:"suggestion"`
	Tips       []string `json:"tips"`
}

var bulletPrefix = regexp.MustCompile(`^([-*]\s*|\d+\.\s*)`)

// Suggest asks the gateway for stacking advice tailored to the user's
// habits and disruption state. It never fails: any gateway problem,
// including a missing key, yields the fallback advice.
func (c *Client) Suggest(ctx context.Context, habits []models.Habit, disrupted bool) Suggestion {
	if !c.Configured() {
		return Suggestion{Suggestion: FallbackSuggestion, Tips: FallbackTips}
	}

	content, err := c.chat(ctx, suggestSystemPrompt, suggestUserPrompt(habits, disrupted), 500)
	if err != nil {
		return Suggestion{Suggestion: FallbackSuggestion, Tips: FallbackTips}
	}
	return parseSuggestion(content)
}

// suggestUserPrompt renders the habit list into the coaching request.
// A disrupted user gets advice on shrinking the routine instead of
// growing it.
func suggestUserPrompt(habits []models.Habit, disrupted bool) string {
	names := make([]string, 0, len(habits))
	for _, h := range habits {
		names = append(names, fmt.Sprintf("%s (%s)", h.Name, h.Category))
	}
	list := strings.Join(names, ", ")
	if list == "" {
		list = "No habits yet"
	}

	if disrupted {
		return fmt.Sprintf(`I'm currently in disruption mode (dealing with travel, stress, or life changes).
My habits are: %s.
I have %d habits total.
How should I adjust my routine to maintain my essential habits while being kind to myself during this challenging period?`, list, len(habits))
	}
	return fmt.Sprintf(`My current habits are: %s.
I have %d habits total.
Suggest resilient stacking strategies that will help these habits survive future disruptions like travel or stress.
Also suggest what order to do them and how to link them together.`, list, len(habits))
}

// parseSuggestion splits a free-form answer into a headline and tip
// lines. Tips keep only lines of substance after bullet markers are
// stripped.
func parseSuggestion(content string) Suggestion {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}

	out := Suggestion{Suggestion: "Focus on consistency over intensity."}
	if len(lines) > 0 {
		out.Suggestion = lines[0]
		lines = lines[1:]
	}

	for _, line := range lines {
		if len(out.Tips) == 5 {
			break
		}
		tip := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if len(tip) > 10 {
			out.Tips = append(out.Tips, tip)
		}
	}
	if len(out.Tips) == 0 {
		out.Tips = defaultTips
	}
	return out
}
