// Package driver implements the per-request pipeline driver: a small state
// machine that composes the Classifier, Router, and the three council
// stages, owns the bounded event queue they publish to, and persists the
// finished assistant record.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/classify"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/council/stage1"
	"github.com/council-engine/council/pkg/council/stage2"
	"github.com/council-engine/council/pkg/council/stage3"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/leaderboard"
	"github.com/council-engine/council/pkg/route"
	"github.com/council-engine/council/pkg/tokens"
)

// fallbackDirectText is the literal fallback returned by the direct-answer
// branch when the chairman call fails or returns empty content.
const fallbackDirectText = "I apologize, I was unable to generate a response."

const directHistoryTurns = 6

// ExecutionMode parameterizes which terminal stage the driver stops at.
type ExecutionMode string

const (
	ModeChat   ExecutionMode = "chat"
	ModeRanked ExecutionMode = "ranked"
	ModeFull   ExecutionMode = "full"
)

// Deps bundles the shared, long-lived collaborators a driver run needs.
type Deps struct {
	Registry *backend.Registry
	Global   *config.GlobalConfig
	Store    *convstore.Store
	Board    *leaderboard.Leaderboard
}

// Request is one deliberation request.
type Request struct {
	ConversationID string
	CouncilID      string
	Council        *config.Council
	Question       string
	History        []convstore.Turn
	Mode           ExecutionMode
	ForceDirect    bool
}

// Result is the outcome of one driver run.
type Result struct {
	FinalText string
	Err       error
}

// Run drives req to completion, emitting every event through emit as it is
// produced. It blocks until the pipeline reaches DONE or ERROR; callers
// that need cancellation pass a ctx tied into a CancelRegistry entry.
func Run(ctx context.Context, deps Deps, req Request, emit func(events.Event)) Result {
	queueCapacity := 2
	if req.Council != nil && len(req.Council.Personas) > 0 {
		queueCapacity = 2 * len(req.Council.Personas)
	}
	queue := events.NewQueue(queueCapacity)

	done := make(chan Result, 1)
	go func() {
		res := runPipeline(ctx, deps, req, queue)
		queue.Close()
		done <- res
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, ev := range queue.Drain() {
				emit(ev)
			}
		case res := <-done:
			for _, ev := range queue.Drain() {
				emit(ev)
			}
			return res
		}
	}
}

// runPipeline implements the state machine: START -> CLASSIFY -> (direct ->
// DIRECT -> DONE) | (deliberation/followup -> ROUTE -> STAGE1 -> STAGE2 ->
// STAGE3 -> PERSIST -> DONE), with an ERROR -> DONE branch on terminal
// failures.
func runPipeline(ctx context.Context, deps Deps, req Request, queue *events.Queue) Result {
	accountant := tokens.NewAccountant()

	queue.Publish(ctx, events.New(events.TypeExecutionMode, map[string]string{"mode": string(req.Mode)}))

	classification, terminal := classifyRequest(ctx, deps, req, queue, accountant)
	if terminal != nil {
		return *terminal
	}

	if req.ForceDirect || classification.Type == classify.TypeFactual || classification.Type == classify.TypeChat {
		res := runDirect(ctx, deps, req, queue, accountant)
		if errors.Is(res.Err, deliberr.ErrPersistenceFailure) {
			log.Printf("driver: conversation %s: %v", req.ConversationID, res.Err)
		}
		publishDone(ctx, queue, accountant, res.FinalText)
		return res
	}

	res := runDeliberation(ctx, deps, req, queue, accountant)
	switch {
	case res.Err == nil:
		publishDone(ctx, queue, accountant, res.FinalText)
	case errors.Is(res.Err, deliberr.ErrPersistenceFailure):
		// The answer was already streamed; an append failure is logged and
		// the client still receives done.
		log.Printf("driver: conversation %s: %v", req.ConversationID, res.Err)
		publishDone(ctx, queue, accountant, res.FinalText)
	default:
		publishError(ctx, queue, res.Err)
	}
	return res
}

// classifyRequest runs Stage 0a unless force_direct short-circuits it,
// returning a non-nil terminal Result only when classification itself must
// abort the request (it never does today — classify.Classify always
// degrades to a default rather than erroring).
func classifyRequest(ctx context.Context, deps Deps, req Request, queue *events.Queue, accountant *tokens.Accountant) (classify.Result, *Result) {
	if req.ForceDirect {
		return classify.Result{Type: classify.TypeChat}, nil
	}

	queue.Publish(ctx, events.New(events.TypeClassificationStart, nil))

	titleBackend, _ := deps.Registry.Get(deps.Global.TitleModel)
	result := classify.Classify(ctx, titleBackend, req.Question, req.History)

	stageTotal, runningTotal := accountant.Record("classification", toTokensUsage(result.Usage))
	if stageTotal.TotalTokens > 0 {
		queue.Publish(ctx, events.New(events.TypeUsageUpdate, events.UsageUpdatePayload{
			Stage: "classification", Usage: toUsageTotals(stageTotal, 1), RunningTotal: toUsageTotals(runningTotal, 1),
		}))
	}

	queue.Publish(ctx, events.New(events.TypeClassificationComplete, events.ClassificationCompletePayload{
		Type: string(result.Type), Reasoning: result.Reasoning,
	}))
	return result, nil
}

// runDirect answers without deliberation: a single chairman call seeded
// with the trailing history and the question, falling back to the literal
// apology string on failure or empty content.
func runDirect(ctx context.Context, deps Deps, req Request, queue *events.Queue, accountant *tokens.Accountant) Result {
	queue.Publish(ctx, events.New(events.TypeDirectStart, nil))

	chairman, ok := deps.Registry.Get(deps.Global.Chairman)
	if !ok {
		return Result{FinalText: fallbackDirectText, Err: fmt.Errorf("%w: chairman backend %q not registered", deliberr.ErrBackendTransport, deps.Global.Chairman)}
	}

	history := req.History
	if len(history) > directHistoryTurns {
		history = history[len(history)-directHistoryTurns:]
	}
	messages := make([]backend.Message, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case convstore.RoleUser:
			messages = append(messages, backend.Message{Role: backend.RoleUser, Content: t.Content})
		case convstore.RoleAssistant:
			messages = append(messages, backend.Message{Role: backend.RoleAssistant, Content: t.Content})
		}
	}
	messages = append(messages, backend.Message{Role: backend.RoleUser, Content: req.Question})

	res, err := chairman.Complete(ctx, backend.CompleteRequest{Messages: messages})
	if err != nil || res.Content == "" {
		return Result{FinalText: fallbackDirectText, Err: err}
	}

	stageTotal, runningTotal := accountant.Record("direct", toTokensUsage(res.Usage))
	queue.Publish(ctx, events.New(events.TypeUsageUpdate, events.UsageUpdatePayload{
		Stage: "direct", Usage: toUsageTotals(stageTotal, 1), RunningTotal: toUsageTotals(runningTotal, 1),
	}))

	if deps.Store != nil {
		am := convstore.AssistantMessage{Stage3: convstore.Stage3Record{BackendID: chairman.ID(), Response: res.Content, Usage: toUsageRecord(res.Usage)}}
		if err := deps.Store.AppendAssistant(ctx, req.ConversationID, am); err != nil {
			return Result{FinalText: res.Content, Err: fmt.Errorf("%w: %v", deliberr.ErrPersistenceFailure, err)}
		}
	}

	return Result{FinalText: res.Content}
}

// runDeliberation runs ROUTE -> STAGE1 -> STAGE2 -> (STAGE3) -> PERSIST,
// stopping early per req.Mode.
func runDeliberation(ctx context.Context, deps Deps, req Request, queue *events.Queue, accountant *tokens.Accountant) Result {
	council := req.Council
	titleBackend, _ := deps.Registry.Get(deps.Global.TitleModel)

	var standings leaderboard.Snapshot
	if deps.Board != nil {
		standings = deps.Board.Snapshot(req.CouncilID)
	}

	queue.Publish(ctx, events.New(events.TypeRoutingStart, nil))
	panel, routingUsage := route.Route(ctx, titleBackend, req.Question, council, council.AvailableBackends, standings)
	if len(panel) < council.Routing.MinAdvisors {
		return Result{Err: fmt.Errorf("%w: got %d of min %d", deliberr.ErrPanelInfeasible, len(panel), council.Routing.MinAdvisors)}
	}

	stageTotal, runningTotal := accountant.Record("routing", toTokensUsage(routingUsage))
	if stageTotal.TotalTokens > 0 {
		queue.Publish(ctx, events.New(events.TypeUsageUpdate, events.UsageUpdatePayload{
			Stage: "routing", Usage: toUsageTotals(stageTotal, 1), RunningTotal: toUsageTotals(runningTotal, 1),
		}))
	}

	panelPayload := make([]events.PanelMemberPayload, len(panel))
	for i, m := range panel {
		panelPayload[i] = events.PanelMemberPayload{AdvisorID: m.AdvisorID, BackendID: m.BackendID, Reasoning: m.Reasoning}
	}
	queue.Publish(ctx, events.New(events.TypeRoutingComplete, events.RoutingCompletePayload{Panel: panelPayload}))
	queue.Publish(ctx, events.New(events.TypePanelConfirmed, events.RoutingCompletePayload{Panel: panelPayload}))

	temps := deps.Global.Deliberation.Temperatures

	stage1Outputs, err := stage1.Collect(ctx, queue, accountant, council, deps.Registry, panel, req.Question, req.History, deps.Global.ResponseConfig.ResponseStyle, temps.Stage1)
	if err != nil {
		return Result{Err: err}
	}

	if req.Mode == ModeChat {
		// Chat mode promotes the first panel member's response as final
		// with no Stage-2/Stage-3 events at all; the promoted text still
		// lands in the record's stage3.response slot so history projection
		// sees an assistant turn.
		promoted := stage3.Result{BackendID: stage1Outputs[0].BackendID, Text: stage1Outputs[0].Text}
		return persistAndReturn(ctx, deps, req, accountant, promoted.Text, panel, stage1Outputs, nil, stage2.Analysis{}, promoted)
	}

	stage2Outputs, analysis, err := stage2.Evaluate(ctx, queue, accountant, deps.Board, req.CouncilID, council, deps.Registry, panel, stage1Outputs, req.Question, temps.Stage2)
	if err != nil {
		return Result{Err: err}
	}

	if req.Mode == ModeRanked {
		// Ranked mode promotes the top-aggregate backend's response. The
		// single synthetic stage3_complete is the one Stage-3 event this
		// mode is allowed to emit.
		promoted := stage3.Result{BackendID: analysis.TopBackendID, Text: topResponseText(stage1Outputs, analysis)}
		queue.Publish(ctx, events.New(events.TypeStage3Complete, events.ModelCompletePayload{Backend: promoted.BackendID, Text: promoted.Text}))
		return persistAndReturn(ctx, deps, req, accountant, promoted.Text, panel, stage1Outputs, stage2Outputs, analysis, promoted)
	}

	chairman, ok := deps.Registry.Get(deps.Global.Chairman)
	if !ok {
		return Result{Err: fmt.Errorf("%w: chairman backend %q not registered", deliberr.ErrBackendTransport, deps.Global.Chairman)}
	}
	stage3Result := stage3.Synthesize(ctx, queue, accountant, chairman, req.Question, stage1Outputs, stage2Outputs, analysis, req.History, temps.Stage3)

	return persistAndReturn(ctx, deps, req, accountant, stage3Result.Text, panel, stage1Outputs, stage2Outputs, analysis, stage3Result)
}

// topResponseText finds the Stage-1 text for the ranked mode's winning
// backend, matching stage3's top-voted lookup fallback discipline.
func topResponseText(outputs []stage1.Output, analysis stage2.Analysis) string {
	for _, o := range outputs {
		if o.BackendID == analysis.TopBackendID {
			return o.Text
		}
	}
	if len(outputs) > 0 {
		return outputs[0].Text
	}
	return ""
}

// persistAndReturn appends one assistant record covering the panel and
// whichever stages ran (Stage-2 is empty in chat mode; the stage3 slot
// always carries the final text, synthesized or promoted) and returns the
// final text to the caller.
func persistAndReturn(ctx context.Context, deps Deps, req Request, accountant *tokens.Accountant, final string, panel []route.Member, stage1Outputs []stage1.Output, stage2Outputs []stage2.Output, analysis stage2.Analysis, stage3Result stage3.Result) Result {
	if deps.Store == nil {
		return Result{FinalText: final}
	}

	am := convstore.AssistantMessage{
		Stage1: toStage1Records(stage1Outputs),
		Stage2: toStage2Records(stage2Outputs),
		Panel:  toPanelRecords(panel),
		Usage:  toUsageByStageRecord(accountant),
	}
	if stage3Result.BackendID != "" {
		am.Stage3 = convstore.Stage3Record{BackendID: stage3Result.BackendID, Response: stage3Result.Text, Usage: toUsageRecord(stage3Result.Usage)}
	}
	if len(analysis.WeightedScores) > 0 {
		am.Analysis = toAnalysisRecord(analysis)
	}

	if err := deps.Store.AppendAssistant(ctx, req.ConversationID, am); err != nil {
		return Result{FinalText: final, Err: fmt.Errorf("%w: %v", deliberr.ErrPersistenceFailure, err)}
	}
	return Result{FinalText: final}
}

func toPanelRecords(panel []route.Member) []convstore.PanelMemberRecord {
	out := make([]convstore.PanelMemberRecord, len(panel))
	for i, m := range panel {
		out[i] = convstore.PanelMemberRecord{AdvisorID: m.AdvisorID, BackendID: m.BackendID, Reasoning: m.Reasoning}
	}
	return out
}

func toStage1Records(outputs []stage1.Output) []convstore.Stage1Record {
	out := make([]convstore.Stage1Record, len(outputs))
	for i, o := range outputs {
		out[i] = convstore.Stage1Record{
			BackendID: o.BackendID, AdvisorID: o.AdvisorID, Role: o.Role, MemberID: o.MemberID,
			Response: o.Text, Usage: toUsageRecord(o.Usage),
		}
	}
	return out
}

func toStage2Records(outputs []stage2.Output) []convstore.Stage2Record {
	out := make([]convstore.Stage2Record, len(outputs))
	for i, o := range outputs {
		out[i] = convstore.Stage2Record{
			BackendID: o.EvaluatorBackendID, AdvisorID: o.EvaluatorAdvisorID, Role: o.Role,
			Ranking: o.RawText, ParsedRanking: o.ParsedRanking,
			QualityRatings: o.QualityRatings, RubricScores: o.RubricScores,
			Usage: toUsageRecord(o.Usage),
		}
	}
	return out
}

func toAnalysisRecord(a stage2.Analysis) *convstore.AnalysisRecord {
	rec := &convstore.AnalysisRecord{
		WeightedScores: a.WeightedScores,
		LabelToBackend: a.LabelToBackend,
		TopResponse:    convstore.TopResponseRecord{Label: a.TopLabel, BackendID: a.TopBackendID, Score: a.TopScore},
	}
	for _, c := range a.Conflicts {
		rec.Conflicts = append(rec.Conflicts, convstore.ConflictRecord{
			Kind: string(c.Kind), Label: c.Label, Severity: string(c.Severity), Description: c.Description,
		})
	}
	for _, m := range a.Minority {
		rec.MinorityOpinions = append(rec.MinorityOpinions, convstore.MinorityOpinionRecord{
			Label: m.Label, Direction: string(m.Direction), Dissenters: m.Dissenters, Average: m.Average,
		})
	}
	return rec
}

func toUsageByStageRecord(accountant *tokens.Accountant) *convstore.UsageByStageRecord {
	byStage := accountant.ByStage()
	out := &convstore.UsageByStageRecord{ByStage: make(map[string]convstore.UsageRecord, len(byStage)), Total: toUsageRecordFromTokens(accountant.Total())}
	for stage, u := range byStage {
		out.ByStage[stage] = toUsageRecordFromTokens(u)
	}
	return out
}

func publishDone(ctx context.Context, queue *events.Queue, accountant *tokens.Accountant, final string) {
	payload := events.DonePayload{FinalText: final}
	payload.Usage.Total = toUsageTotals(accountant.Total(), 0)
	byStage := accountant.ByStage()
	payload.Usage.ByStage = make(map[string]events.UsageTotals, len(byStage))
	for stage, u := range byStage {
		payload.Usage.ByStage[stage] = toUsageTotals(u, 0)
	}
	queue.Publish(ctx, events.New(events.TypeDone, payload))
}

func publishError(ctx context.Context, queue *events.Queue, err error) {
	kind := "internal"
	switch {
	case deliberr.IsCancelled(err):
		kind = "cancelled"
	case errors.Is(err, deliberr.ErrPanelInfeasible):
		kind = "panel_infeasible"
	case errors.Is(err, deliberr.ErrNoStage1Survivors):
		kind = "no_survivors"
	}
	queue.Publish(ctx, events.New(events.TypeError, events.ErrorPayload{Kind: kind, Message: err.Error()}))
}

func toTokensUsage(u backend.Usage) tokens.Usage {
	return tokens.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost}
}

func toUsageTotals(u tokens.Usage, calls int) events.UsageTotals {
	return events.UsageTotals{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost, Calls: calls}
}

func toUsageRecord(u backend.Usage) convstore.UsageRecord {
	return convstore.UsageRecord{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost}
}

func toUsageRecordFromTokens(u tokens.Usage) convstore.UsageRecord {
	return convstore.UsageRecord{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost}
}

