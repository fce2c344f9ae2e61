// Package stage2 implements the Stage-2 evaluator: every panel member
// re-ranks the anonymized Stage-1 outputs under the council's rubric, and
// the results are aggregated into an Analysis bundle consumed by Stage-3
// and the Leaderboard.
package stage2

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/council/aggregate"
	"github.com/council-engine/council/pkg/council/ranking"
	"github.com/council-engine/council/pkg/council/stage1"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/leaderboard"
	"github.com/council-engine/council/pkg/route"
	"github.com/council-engine/council/pkg/tokens"
)

// maxRounds is hardcoded to 1. Multi-round refinement is not part of the
// deliberation contract yet; the round fields on events keep the wire
// format forward compatible.
const maxRounds = 1

// Output is one evaluator's finished Stage-2 contribution.
type Output struct {
	EvaluatorBackendID string
	EvaluatorAdvisorID string
	Role               string
	RawText            string
	ParsedRanking      []string // bare labels "A", "B", ... in best-to-worst order
	QualityRatings     map[string]float64
	RubricScores       map[string]map[string]float64
	Usage              backend.Usage
}

// Member describes one Stage-1 response's anonymization: its label and the
// panel member that produced it.
type Member struct {
	AdvisorID string
	BackendID string
	Role      string
}

// Analysis is the full bundle produced after aggregation: conflicts,
// minority opinions, weighted scores, the winning label, and the
// label<->member/backend maps the driver and Stage-3 need.
type Analysis struct {
	LabelToBackend map[string]string
	LabelToMember  map[string]Member
	Conflicts      []aggregate.Conflict
	Minority       []aggregate.MinorityOpinion
	WeightedScores map[string]float64
	TopLabel       string
	TopBackendID   string
	TopScore       float64
	Summary        string
}

const minorityThresholdFraction = 0.3

type evalResult struct {
	index  int
	output Output
	err    error
}

// Evaluate fans out the evaluation prompt to every panel member (same
// members that produced Stage-1 act as evaluators), joins their parsed
// rankings, and runs the Aggregator to build the Analysis bundle. An
// errored evaluator contributes no Output but does not abort the stage.
func Evaluate(
	ctx context.Context,
	queue *events.Queue,
	accountant *tokens.Accountant,
	board *leaderboard.Leaderboard,
	councilID string,
	council *config.Council,
	registry *backend.Registry,
	panel []route.Member,
	stage1Outputs []stage1.Output,
	q string,
	temperature float32,
) ([]Output, Analysis, error) {
	labels := make([]string, len(stage1Outputs))
	labelToBackend := make(map[string]string, len(stage1Outputs))
	labelToMember := make(map[string]Member, len(stage1Outputs))
	for i, out := range stage1Outputs {
		label := string(rune('A' + i))
		labels[i] = label
		labelToBackend[label] = out.BackendID
		labelToMember[label] = Member{AdvisorID: out.AdvisorID, BackendID: out.BackendID, Role: out.Role}
	}

	criteria := make([]string, len(council.Rubric))
	for i, r := range council.Rubric {
		criteria[i] = r.Name
	}
	prompt := buildPrompt(q, stage1Outputs, labels, council.Rubric)

	queue.Publish(ctx, events.New(events.TypeStage2Init, events.InitPayload{Total: len(panel)}))

	round := 1
	queue.Publish(ctx, events.New(events.TypeRoundStart, roundPayload{Round: round, MaxRounds: maxRounds}))

	resultsCh := make(chan evalResult, len(panel))
	closeCh := make(chan struct{})

	var calls int32
	for i, m := range panel {
		go runEvaluator(ctx, i, m, council, registry, prompt, criteria, temperature, round, queue, accountant, &calls, resultsCh, closeCh)
	}

	results := make([]*Output, len(panel))
	received, completed := 0, 0
collect:
	for received < len(panel) {
		select {
		case r := <-resultsCh:
			received++
			completed++
			m := panel[r.index]
			queue.Publish(ctx, events.New(events.TypeStage2Progress, events.ProgressPayload{
				Completed: completed, Total: len(panel), Backend: m.BackendID, MemberID: m.AdvisorID,
			}))
			if r.err == nil {
				out := r.output
				results[r.index] = &out
			}
		case <-ctx.Done():
			break collect
		}
	}
	close(closeCh)

	if ctx.Err() != nil {
		return nil, Analysis{}, ctx.Err()
	}

	var outputs []Output
	for _, r := range results {
		if r != nil {
			outputs = append(outputs, *r)
		}
	}
	queue.Publish(ctx, events.New(events.TypeRoundComplete, roundCompletePayload{Round: round}))

	analysis := aggregateResults(outputs, labels, labelToBackend, labelToMember)
	queue.Publish(ctx, events.New(events.TypeAnalysis, analysisPayload(analysis)))

	if board != nil && len(analysis.WeightedScores) > 0 && analysis.TopBackendID != "" {
		backendScores := aggregate.AveragedBackendScores(analysis.WeightedScores, labelToBackend)
		rubricByBackend := rubricScoresByBackend(outputs, labelToBackend)
		if err := board.RecordResult(councilID, backendScores, analysis.TopBackendID, rubricByBackend); err != nil {
			// A leaderboard write failure is logged here and is not fatal to
			// the deliberation: the stage completes normally, since the
			// client's answer does not depend on whether standings persisted.
			log.Printf("stage2: leaderboard update for council %s: %v", councilID, err)
		}
	}

	queue.Publish(ctx, events.New(events.TypeStage2Complete, nil))
	return outputs, analysis, nil
}

func runEvaluator(
	ctx context.Context,
	index int,
	m route.Member,
	council *config.Council,
	registry *backend.Registry,
	prompt string,
	criteria []string,
	temperature float32,
	round int,
	queue *events.Queue,
	accountant *tokens.Accountant,
	calls *int32,
	resultsCh chan<- evalResult,
	closeCh <-chan struct{},
) {
	deliver := func(res evalResult) {
		select {
		case resultsCh <- res:
		case <-closeCh:
		}
	}

	persona, _ := council.PersonaByID(m.AdvisorID)

	be, ok := registry.Get(m.BackendID)
	if !ok {
		deliver(evalResult{index: index, err: fmt.Errorf("%s: %w: backend not registered", m.BackendID, deliberr.ErrBackendTransport)})
		return
	}

	var messages []backend.Message
	if persona.PersonaPrompt != "" {
		messages = append(messages, backend.Message{Role: backend.RoleSystem, Content: persona.PersonaPrompt})
	}
	messages = append(messages, backend.Message{Role: backend.RoleUser, Content: prompt})

	temp := temperature
	stream, err := be.Stream(ctx, backend.CompleteRequest{Messages: messages, Temperature: &temp})
	if err != nil {
		deliver(evalResult{index: index, err: fmt.Errorf("%s: %w: %v", m.BackendID, deliberr.ErrBackendTransport, err)})
		return
	}

	text, usage, err := drainStream(ctx, stream, m.BackendID, m.AdvisorID, persona.Role, round, queue)
	if err != nil {
		deliver(evalResult{index: index, err: err})
		return
	}

	parsedRaw := ranking.ParseRanking(text)
	parsed := stripResponsePrefix(parsedRaw)
	ratings := ranking.ExtractQualityRatings(text)
	rubricScores := ranking.ExtractRubricScores(text, criteria)

	n := atomic.AddInt32(calls, 1)
	stageTotal, runningTotal := accountant.Record("stage2", toTokensUsage(usage))
	queue.Publish(ctx, events.New(events.TypeUsageUpdate, events.UsageUpdatePayload{
		Stage: "stage2", Usage: toUsageTotals(stageTotal, int(n)), RunningTotal: toUsageTotals(runningTotal, int(n)),
	}))

	queue.Publish(ctx, events.New(events.TypeStage2ModelComplete, events.ModelCompletePayload{
		Backend: m.BackendID, AdvisorID: m.AdvisorID, Role: persona.Role, MemberID: m.AdvisorID,
		RawText: text, ParsedRanking: parsed, QualityRatings: ratings, RubricScores: rubricScores,
	}))

	deliver(evalResult{index: index, output: Output{
		EvaluatorBackendID: m.BackendID, EvaluatorAdvisorID: m.AdvisorID, Role: persona.Role,
		RawText: text, ParsedRanking: parsed, QualityRatings: ratings, RubricScores: rubricScores, Usage: usage,
	}})
}

// stripResponsePrefix converts ranking.ParseRanking's "Response X" labels
// to the bare letters aggregate.EvaluatorRanking expects.
func stripResponsePrefix(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = strings.TrimPrefix(l, "Response ")
	}
	return out
}

func aggregateResults(outputs []Output, labelOrder []string, labelToBackend map[string]string, labelToMember map[string]Member) Analysis {
	rankings := make([]aggregate.EvaluatorRanking, len(outputs))
	for i, o := range outputs {
		rankings[i] = aggregate.EvaluatorRanking{EvaluatorBackendID: o.EvaluatorBackendID, ParsedRanking: o.ParsedRanking}
	}

	weighted := aggregate.WeightedScores(rankings)
	topLabel, topScore := aggregate.TopResponse(weighted, labelOrder)
	conflicts := aggregate.DetectConflicts(rankings, labelToBackend)
	minority := aggregate.DetectMinorityOpinions(rankings, labelToBackend, minorityThresholdFraction)
	summary := aggregate.FormatAnalysisSummary(weighted, labelOrder, conflicts, minority)

	return Analysis{
		LabelToBackend: labelToBackend,
		LabelToMember:  labelToMember,
		Conflicts:      conflicts,
		Minority:       minority,
		WeightedScores: weighted,
		TopLabel:       topLabel,
		TopBackendID:   labelToBackend[topLabel],
		TopScore:       topScore,
		Summary:        summary,
	}
}

// rubricScoresByBackend collapses per-evaluator rubric scores (keyed by the
// label being scored) into backend_id -> criterion -> last-reported score,
// for RecordResult's optional rubric-window update.
func rubricScoresByBackend(outputs []Output, labelToBackend map[string]string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, o := range outputs {
		for label, criteria := range o.RubricScores {
			backendID, ok := labelToBackend[label]
			if !ok {
				continue
			}
			if out[backendID] == nil {
				out[backendID] = make(map[string]float64)
			}
			for criterion, score := range criteria {
				out[backendID][criterion] = score
			}
		}
	}
	return out
}

func toTokensUsage(u backend.Usage) tokens.Usage {
	return tokens.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost}
}

func toUsageTotals(u tokens.Usage, calls int) events.UsageTotals {
	return events.UsageTotals{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost, Calls: calls}
}

type roundPayload struct {
	Round     int `json:"round"`
	MaxRounds int `json:"max_rounds"`
}

type roundCompletePayload struct {
	Round int `json:"round"`
}

func analysisPayload(a Analysis) map[string]interface{} {
	return map[string]interface{}{
		"weighted_scores": a.WeightedScores,
		"top": map[string]interface{}{
			"label":   a.TopLabel,
			"backend": a.TopBackendID,
			"score":   a.TopScore,
		},
		"conflicts":         a.Conflicts,
		"minority_opinions": a.Minority,
		"summary":           a.Summary,
	}
}
