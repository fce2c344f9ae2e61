// Package classify implements Stage 0a: a deterministic heuristic fast
// path plus a single LLM call that labels a user message as factual, chat,
// deliberation, or followup.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/convstore"
)

// Type is the closed classification label set.
type Type string

const (
	TypeFactual      Type = "factual"
	TypeChat         Type = "chat"
	TypeDeliberation Type = "deliberation"
	TypeFollowup     Type = "followup"
)

// Result is the Classifier's output: a label, a brief reason, and any usage
// incurred by the LLM fallback call (zero value if the heuristic fired).
type Result struct {
	Type      Type
	Reasoning string
	Usage     backend.Usage
}

// followupPhrases, contextPronouns, and definitionalOpeners form the
// closed back-reference phrase set the heuristic fast path matches on.
var followupPhrases = []string{
	"follow up", "followup", "follow-up",
	"as i said", "as i mentioned", "as we discussed",
	"what you said", "what you mentioned", "you said",
	"you mentioned", "you suggested", "you recommended",
	"all of this", "all of that", "incorporate the above",
	"based on this", "based on that", "based on what",
	"can you summarize", "can you consolidate",
	"going back to", "regarding what", "about what you",
	"the above", "from above", "mentioned earlier",
	"earlier you", "previously you", "you just said",
	"expand on", "elaborate on", "more about",
	"what about", "how about", "and what about",
	"can you also", "one more thing",
	"thanks, now", "ok, now", "great, now",
	"ok now", "ok so", "ok can you",
	"also,", "also can you",
}

var contextPronouns = []string{"that", "this", "it", "them", "those", "these"}

var definitionalOpeners = []string{"what is a", "what is an", "define ", "who is "}

const classificationPromptTemplate = `Analyze this user message and classify it.

Message: %s%s

Respond with ONLY a JSON object:
{"type": "factual|chat|deliberation|followup", "reasoning": "brief explanation"}

Rules:
- "followup": The message references prior conversation. If the message only makes sense WITH prior context, it is a followup.
- "factual": Simple NEW questions with definitive answers (self-contained)
- "chat": Greetings, small talk, simple acknowledgments
- "deliberation": New complex questions requiring multiple perspectives (self-contained)`

// heuristic implements the fast, LLM-free followup check. It returns
// ok=false when the heuristic doesn't fire, so the caller falls through to
// the LLM path.
func heuristic(q string, hasHistory bool) (Result, bool) {
	if !hasHistory {
		return Result{}, false
	}
	lower := strings.ToLower(strings.TrimSpace(q))

	for _, phrase := range followupPhrases {
		if strings.Contains(lower, phrase) {
			return Result{Type: TypeFollowup, Reasoning: fmt.Sprintf("Heuristic: contains '%s'", phrase)}, true
		}
	}

	words := strings.Fields(lower)
	if len(words) <= 15 {
		for _, pronoun := range contextPronouns {
			if containsWord(words, pronoun) && !containsAny(lower, definitionalOpeners) {
				return Result{Type: TypeFollowup, Reasoning: fmt.Sprintf("Heuristic: short message with context-dependent pronoun '%s'", pronoun)}, true
			}
		}
	}

	return Result{}, false
}

func containsWord(words []string, target string) bool {
	for _, w := range words {
		if w == target {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// historyWindow renders the last n history turns, each truncated to
// truncate characters, as "User: ..."/"Assistant: ..." lines for prompt
// history context.
func historyWindow(history []convstore.Turn, n, truncate int) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	var lines []string
	for _, turn := range recent {
		content := turn.Content
		if len(content) > truncate {
			content = content[:truncate]
		}
		switch turn.Role {
		case convstore.RoleUser:
			lines = append(lines, "User: "+content)
		case convstore.RoleAssistant:
			lines = append(lines, "Assistant: "+content)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\nRecent conversation history:\n" + strings.Join(lines, "\n")
}

// Classify never returns an error to the caller: any LLM failure, JSON
// parse failure, or unrecognized type degrades to Result{Type:
// TypeDeliberation}.
func Classify(ctx context.Context, titleBackend backend.Backend, q string, history []convstore.Turn) Result {
	if res, ok := heuristic(q, len(history) > 0); ok {
		return res
	}
	if titleBackend == nil {
		return Result{Type: TypeDeliberation, Reasoning: "No classification backend configured"}
	}

	historyContext := historyWindow(history, 4, 200)
	prompt := fmt.Sprintf(classificationPromptTemplate, q, historyContext)

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	zero := float32(0)
	res, err := titleBackend.Complete(cctx, backend.CompleteRequest{
		Messages:    []backend.Message{{Role: backend.RoleUser, Content: prompt}},
		Temperature: &zero,
	})
	if err != nil || res.Content == "" {
		return Result{Type: TypeDeliberation, Reasoning: "Classification failed"}
	}

	var parsed struct {
		Type      string `json:"type"`
		Reasoning string `json:"reasoning"`
	}
	raw, ok := ExtractJSON(strings.TrimSpace(res.Content))
	if !ok {
		return Result{Type: TypeDeliberation, Reasoning: "Parse failed", Usage: res.Usage}
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Type == "" {
		return Result{Type: TypeDeliberation, Reasoning: "Parse failed", Usage: res.Usage}
	}

	t := Type(parsed.Type)
	switch t {
	case TypeFactual, TypeChat, TypeDeliberation, TypeFollowup:
	default:
		t = TypeDeliberation
	}
	return Result{Type: t, Reasoning: parsed.Reasoning, Usage: res.Usage}
}
