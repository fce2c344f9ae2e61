// Package convstore persists conversations: an append-only sequence of user
// and assistant messages addressed by conversation id, backed by Postgres.
package convstore

import "time"

// Role discriminates a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a flattened view of one exchange, used by the Classifier,
// Stage-1, and Stage-3 for history projection. It deliberately carries
// only what those components read — the user's text, or the assistant's
// Stage-3 response text — not the full Record shape.
type Turn struct {
	Role    Role
	Content string
}

// PanelMemberRecord is one panel entry as persisted on an assistant record.
type PanelMemberRecord struct {
	AdvisorID string `json:"advisor_id"`
	BackendID string `json:"backend_id"`
	Reasoning string `json:"reasoning"`
}

// Stage1Record is one panel member's persisted Stage-1 output.
type Stage1Record struct {
	BackendID string     `json:"model"`
	AdvisorID string     `json:"advisor_id"`
	Role      string     `json:"role"`
	MemberID  string     `json:"member_id"`
	Response  string     `json:"response"`
	Usage     UsageRecord `json:"usage"`
}

// Stage2Record is one evaluator's persisted Stage-2 output.
type Stage2Record struct {
	BackendID      string                        `json:"model"`
	AdvisorID      string                        `json:"advisor_id"`
	Role           string                        `json:"role"`
	MemberID       string                        `json:"member_id"`
	Ranking        string                        `json:"ranking"`
	ParsedRanking  []string                      `json:"parsed_ranking"`
	QualityRatings map[string]float64            `json:"quality_ratings,omitempty"`
	RubricScores   map[string]map[string]float64 `json:"rubric_scores,omitempty"`
	Usage          UsageRecord                   `json:"usage"`
}

// Stage3Record is the chairman's persisted synthesis.
type Stage3Record struct {
	BackendID string      `json:"model"`
	Response  string      `json:"response"`
	Usage     UsageRecord `json:"usage"`
}

// ConflictRecord is one persisted ranking disagreement.
type ConflictRecord struct {
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// MinorityOpinionRecord is one persisted dissent entry.
type MinorityOpinionRecord struct {
	Label      string   `json:"label"`
	Direction  string   `json:"direction"`
	Dissenters []string `json:"dissenters"`
	Average    float64  `json:"average"`
}

// TopResponseRecord names the aggregator's winning label.
type TopResponseRecord struct {
	Label     string  `json:"label"`
	BackendID string  `json:"model"`
	Score     float64 `json:"score"`
}

// AnalysisRecord is the persisted analysis bundle for one assistant record.
type AnalysisRecord struct {
	Conflicts        []ConflictRecord          `json:"conflicts,omitempty"`
	MinorityOpinions []MinorityOpinionRecord   `json:"minority_opinions,omitempty"`
	WeightedScores   map[string]float64        `json:"weighted_scores,omitempty"`
	TopResponse      TopResponseRecord         `json:"top_response"`
	LabelToBackend   map[string]string         `json:"label_to_model,omitempty"`
}

// UsageRecord mirrors the Backend port's usage shape for persistence.
type UsageRecord struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// UsageByStageRecord is the full per-request usage breakdown persisted on
// an assistant record.
type UsageByStageRecord struct {
	ByStage map[string]UsageRecord `json:"by_stage,omitempty"`
	Total   UsageRecord            `json:"total"`
}

// Message is one entry in a conversation's append-only message list: either
// a user utterance (Role=user, Content set) or an assistant record (every
// other field set, Content empty).
type Message struct {
	Role     Role                `json:"role"`
	Content  string              `json:"content,omitempty"`
	Stage1   []Stage1Record      `json:"stage1,omitempty"`
	Stage2   []Stage2Record      `json:"stage2,omitempty"`
	Stage3   *Stage3Record       `json:"stage3,omitempty"`
	Analysis *AnalysisRecord     `json:"analysis,omitempty"`
	Panel    []PanelMemberRecord `json:"panel,omitempty"`
	Usage    *UsageByStageRecord `json:"usage,omitempty"`
}

// Record is a full conversation: metadata plus its append-only message log.
type Record struct {
	ID        string     `json:"id"`
	CouncilID string     `json:"council_id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Messages  []Message  `json:"messages"`
}

// Turns flattens a Record's messages into the Turn view Classify/Stage-1/
// Stage-3 consume: a user message contributes its Content; an assistant
// message contributes its Stage-3 response text, if any.
func (r *Record) Turns() []Turn {
	out := make([]Turn, 0, len(r.Messages))
	for _, m := range r.Messages {
		switch m.Role {
		case RoleUser:
			out = append(out, Turn{Role: RoleUser, Content: m.Content})
		case RoleAssistant:
			if m.Stage3 != nil && m.Stage3.Response != "" {
				out = append(out, Turn{Role: RoleAssistant, Content: m.Stage3.Response})
			}
		}
	}
	return out
}

// Summary is the list-view shape returned by List: id, council,
// timestamps, title, and message count, without the full message log.
type Summary struct {
	ID           string    `json:"id"`
	CouncilID    string    `json:"council_id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Deleted      bool      `json:"deleted"`
}
