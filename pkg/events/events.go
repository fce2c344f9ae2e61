// Package events defines the discriminated event envelope streamed from the
// pipeline driver to a single request's client, and the closed set of typed
// payloads that may be carried inside it.
package events

import "time"

// Type names form the closed event set a client may observe, grouped by the
// stage that emits them.
const (
	TypeExecutionMode         = "execution_mode"
	TypeClassificationStart   = "classification_start"
	TypeClassificationComplete = "classification_complete"
	TypeDirectStart           = "direct_start"
	TypeRoutingStart          = "routing_start"
	TypeRoutingComplete       = "routing_complete"
	TypePanelConfirmed        = "panel_confirmed"
	TypeSearchStart           = "search_start"
	TypeSearchComplete        = "search_complete"

	TypeStage1Init          = "stage1_init"
	TypeStage1Progress      = "stage1_progress"
	TypeStage1Token         = "stage1_token"
	TypeStage1Thinking      = "stage1_thinking"
	TypeStage1ModelComplete = "stage1_model_complete"
	TypeStage1ModelError    = "stage1_model_error"
	TypeStage1Complete      = "stage1_complete"

	TypeRoundStart    = "round_start"
	TypeRoundComplete = "round_complete"

	TypeStage2Init          = "stage2_init"
	TypeStage2Progress      = "stage2_progress"
	TypeStage2Token         = "stage2_token"
	TypeStage2Thinking      = "stage2_thinking"
	TypeStage2ModelComplete = "stage2_model_complete"
	TypeStage2Complete      = "stage2_complete"
	TypeAnalysis            = "analysis"

	TypeStage3Start    = "stage3_start"
	TypeStage3Token    = "stage3_token"
	TypeStage3Thinking = "stage3_thinking"
	TypeStage3Complete = "stage3_complete"
	TypeStage3Error    = "stage3_error"

	TypeUsageUpdate = "usage_update"
	TypeDone        = "done"
	TypeError       = "error"
)

// Event is the envelope delivered to the driver's event queue and, from
// there, to the client. Payload holds the typed payload value as-is and is
// marshaled together with the envelope, so the driver forwards an event
// without needing to know the concrete payload type.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// New builds an Event stamped with the current time.
func New(typ string, payload interface{}) Event {
	return Event{Type: typ, Timestamp: time.Now(), Payload: payload}
}

// InitPayload is carried by stage1_init / stage2_init.
type InitPayload struct {
	Total int `json:"total"`
}

// ProgressPayload is carried by *_progress events.
type ProgressPayload struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Backend   string `json:"backend"`
	Role      string `json:"role"`
	MemberID  string `json:"member_id"`
}

// TokenPayload is carried by *_token events — one per content or thinking
// delta from a streaming member.
type TokenPayload struct {
	Backend         string  `json:"backend"`
	MemberID        string  `json:"member_id"`
	Role            string  `json:"role"`
	Delta           string  `json:"delta"`
	Content         string  `json:"content"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	Round           *int    `json:"round,omitempty"`
}

// ModelCompletePayload is carried by stage1_model_complete /
// stage2_model_complete — the full result record for one member.
type ModelCompletePayload struct {
	Backend        string                 `json:"backend"`
	AdvisorID      string                 `json:"advisor_id"`
	Role           string                 `json:"role"`
	MemberID       string                 `json:"member_id"`
	Label          string                 `json:"label,omitempty"`
	Text           string                 `json:"text,omitempty"`
	RawText        string                 `json:"raw_text,omitempty"`
	ParsedRanking  []string               `json:"parsed_ranking,omitempty"`
	QualityRatings map[string]float64     `json:"quality_ratings,omitempty"`
	RubricScores   map[string]map[string]float64 `json:"rubric_scores,omitempty"`
}

// ModelErrorPayload is carried by stage1_model_error.
type ModelErrorPayload struct {
	Backend  string `json:"backend"`
	MemberID string `json:"member_id"`
	Error    string `json:"error"`
}

// UsageTotals mirrors the Backend port's usage shape, folded across calls.
type UsageTotals struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
	Calls            int     `json:"calls"`
}

// UsageUpdatePayload is carried by usage_update.
type UsageUpdatePayload struct {
	Stage        string      `json:"stage"`
	Usage        UsageTotals `json:"usage"`
	RunningTotal UsageTotals `json:"running_total"`
}

// DonePayload is carried by the terminal done event.
type DonePayload struct {
	Usage struct {
		ByStage map[string]UsageTotals `json:"by_stage"`
		Total   UsageTotals            `json:"total"`
	} `json:"usage"`
	FinalText string `json:"final_text"`
}

// ErrorPayload is carried by the terminal error event.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PanelMemberPayload describes one panel entry for panel_confirmed.
type PanelMemberPayload struct {
	AdvisorID string `json:"advisor_id"`
	BackendID string `json:"backend_id"`
	Reasoning string `json:"reasoning"`
}

// RoutingCompletePayload is carried by routing_complete.
type RoutingCompletePayload struct {
	Panel     []PanelMemberPayload `json:"panel"`
	Reasoning string                `json:"reasoning,omitempty"`
}

// ClassificationCompletePayload is carried by classification_complete.
type ClassificationCompletePayload struct {
	Type      string `json:"classification"`
	Reasoning string `json:"reasoning,omitempty"`
}
