// Package route implements Stage 0b: selecting a subset panel from a
// council's advisor roster and assigning each member a backend, with a
// deterministic fallback when the LLM proposal is missing or invalid.
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/classify"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/leaderboard"
)

// Member is one panel entry: an advisor paired with the backend assigned
// to it and the reason it was selected.
type Member struct {
	AdvisorID string
	BackendID string
	Reasoning string
}

const fallbackReasoning = "fallback selection"

const routerPromptTemplate = `You are a question router for an advisory council. Given a user's question and a roster of available advisors, select the %d-%d most relevant advisors and assign each a model.

USER QUESTION:
%s

AVAILABLE ADVISORS:
%s

AVAILABLE MODELS:
%s

INSTRUCTIONS:
1. Analyze the question to identify key topics, domains, and needs.
2. Select %d-%d advisors whose expertise best matches the question.
3. Assign each selected advisor a model from the available list. Distribute models across advisors.
4. Briefly explain why each advisor was selected.

Respond with ONLY a JSON object:
{
  "panel": [
    {"advisor_id": "id-here", "model": "model/id-here", "reasoning": "brief reason"},
    ...
  ],
  "routing_reasoning": "1-2 sentence overall explanation"
}`

// Route selects a Panel for q from council, assigning each member a
// backend from available. standings is an immutable leaderboard snapshot
// passed by value so the router never holds a live reference to the
// Leaderboard; today's selection does not yet bias on win_rate, but the
// parameter exists so a future variant can read it.
func Route(ctx context.Context, titleBackend backend.Backend, q string, council *config.Council, available []string, standings leaderboard.Snapshot) ([]Member, backend.Usage) {
	_ = standings // reserved for a future leaderboard-biased router variant

	policy := council.Routing
	if len(council.Personas) == 0 || len(available) == 0 {
		return nil, backend.Usage{}
	}
	if titleBackend == nil {
		return fallbackPanel(council, available), backend.Usage{}
	}

	roster := rosterLines(council)
	models := modelLines(available)
	prompt := fmt.Sprintf(routerPromptTemplate,
		policy.MinAdvisors, policy.MaxAdvisors, q, roster, models,
		policy.MinAdvisors, policy.MaxAdvisors,
	)

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	point3 := float32(0.3)
	res, err := titleBackend.Complete(cctx, backend.CompleteRequest{
		Messages:    []backend.Message{{Role: backend.RoleUser, Content: prompt}},
		Temperature: &point3,
	})
	if err != nil || res.Content == "" {
		return fallbackPanel(council, available), res.Usage
	}

	raw, ok := classify.ExtractJSON(strings.TrimSpace(res.Content))
	if !ok {
		return fallbackPanel(council, available), res.Usage
	}

	var parsed struct {
		Panel []struct {
			AdvisorID string `json:"advisor_id"`
			Model     string `json:"model"`
			Reasoning string `json:"reasoning"`
		} `json:"panel"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed.Panel) == 0 {
		return fallbackPanel(council, available), res.Usage
	}

	validAdvisors := make(map[string]bool, len(council.Personas))
	for _, p := range council.Personas {
		validAdvisors[p.ID] = true
	}
	validModels := make(map[string]bool, len(available))
	for _, m := range available {
		validModels[m] = true
	}

	var validated []Member
	for _, item := range parsed.Panel {
		if !validAdvisors[item.AdvisorID] {
			continue
		}
		model := item.Model
		if !validModels[model] {
			model = available[len(validated)%len(available)]
		}
		validated = append(validated, Member{
			AdvisorID: item.AdvisorID,
			BackendID: model,
			Reasoning: item.Reasoning,
		})
	}

	if len(validated) < policy.MinAdvisors {
		return fallbackPanel(council, available), res.Usage
	}
	if len(validated) > policy.MaxAdvisors {
		validated = validated[:policy.MaxAdvisors]
	}
	return validated, res.Usage
}

// fallbackPanel is the deterministic fallback: the first default_advisors
// in council order, each assigned available[i % len(available)].
func fallbackPanel(council *config.Council, available []string) []Member {
	count := council.Routing.DefaultAdvisors
	if count > len(council.Personas) {
		count = len(council.Personas)
	}
	panel := make([]Member, 0, count)
	for i := 0; i < count; i++ {
		panel = append(panel, Member{
			AdvisorID: council.Personas[i].ID,
			BackendID: available[i%len(available)],
			Reasoning: fallbackReasoning,
		})
	}
	return panel
}

func rosterLines(council *config.Council) string {
	lines := make([]string, 0, len(council.Personas))
	for _, p := range council.Personas {
		lines = append(lines, fmt.Sprintf("- %s: %s — %s [tags: %s]", p.ID, p.DisplayName, p.Role, strings.Join(p.Tags, ", ")))
	}
	return strings.Join(lines, "\n")
}

func modelLines(available []string) string {
	lines := make([]string, 0, len(available))
	for _, m := range available {
		lines = append(lines, "- "+m)
	}
	return strings.Join(lines, "\n")
}
