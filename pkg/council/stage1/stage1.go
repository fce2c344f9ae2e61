// Package stage1 implements the Stage-1 collector: fan-out to every panel
// member's backend, streaming each one's response in parallel and joining
// on completion.
package stage1

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/route"
	"github.com/council-engine/council/pkg/tokens"
)

// Output is one panel member's finalized Stage-1 response.
type Output struct {
	AdvisorID string
	BackendID string
	Role      string
	MemberID  string
	Text      string
	Usage     backend.Usage
}

// historyTurns is the number of trailing convstore.Turn entries considered:
// three exchanges of one user and one assistant turn each.
const historyTurns = 6

const concisePrefix = "Answer concisely and directly:\n\n"

type memberResult struct {
	index  int
	output Output
	err    error
}

// Collect fans out q to every member of panel, each on its assigned
// backend, and joins their outputs in panel order. An errored member
// contributes no output; if every member fails, Collect returns
// deliberr.ErrNoStage1Survivors.
func Collect(
	ctx context.Context,
	queue *events.Queue,
	accountant *tokens.Accountant,
	council *config.Council,
	registry *backend.Registry,
	panel []route.Member,
	q string,
	history []convstore.Turn,
	responseStyle config.ResponseStyle,
	temperature float32,
) ([]Output, error) {
	queue.Publish(ctx, events.New(events.TypeStage1Init, events.InitPayload{Total: len(panel)}))

	resultsCh := make(chan memberResult, len(panel))
	closeCh := make(chan struct{})
	var calls int32

	for i, m := range panel {
		go runMember(ctx, i, m, council, registry, q, history, responseStyle, temperature, queue, accountant, &calls, resultsCh, closeCh)
	}

	results := make([]*Output, len(panel))
	received := 0
	completed := 0

collect:
	for received < len(panel) {
		select {
		case r := <-resultsCh:
			received++
			completed++
			m := panel[r.index]
			queue.Publish(ctx, events.New(events.TypeStage1Progress, events.ProgressPayload{
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

	out := make([]Output, 0, len(panel))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if len(out) == 0 {
		return nil, deliberr.ErrNoStage1Survivors
	}
	queue.Publish(ctx, events.New(events.TypeStage1Complete, nil))
	return out, nil
}

// runMember drives one panel member's call from its own goroutine and
// delivers the outcome through resultsCh. Delivery is a non-blocking
// select against closeCh so a cancelled or already-joined collector never
// leaves this goroutine stuck.
func runMember(
	ctx context.Context,
	index int,
	m route.Member,
	council *config.Council,
	registry *backend.Registry,
	q string,
	history []convstore.Turn,
	responseStyle config.ResponseStyle,
	temperature float32,
	queue *events.Queue,
	accountant *tokens.Accountant,
	calls *int32,
	resultsCh chan<- memberResult,
	closeCh <-chan struct{},
) {
	deliver := func(res memberResult) {
		select {
		case resultsCh <- res:
		case <-closeCh:
		}
	}

	persona, _ := council.PersonaByID(m.AdvisorID)

	be, ok := registry.Get(m.BackendID)
	if !ok {
		err := fmt.Errorf("%s: %w: backend not registered", m.BackendID, deliberr.ErrBackendTransport)
		queue.Publish(ctx, events.New(events.TypeStage1ModelError, events.ModelErrorPayload{
			Backend: m.BackendID, MemberID: m.AdvisorID, Error: err.Error(),
		}))
		deliver(memberResult{index: index, err: err})
		return
	}

	messages := buildMessages(persona, q, history, responseStyle)
	temp := temperature
	stream, err := be.Stream(ctx, backend.CompleteRequest{Messages: messages, Temperature: &temp})
	if err != nil {
		wrapped := fmt.Errorf("%s: %w: %v", m.BackendID, deliberr.ErrBackendTransport, err)
		queue.Publish(ctx, events.New(events.TypeStage1ModelError, events.ModelErrorPayload{
			Backend: m.BackendID, MemberID: m.AdvisorID, Error: wrapped.Error(),
		}))
		deliver(memberResult{index: index, err: wrapped})
		return
	}

	text, usage, err := drainStream(ctx, stream, m.BackendID, m.AdvisorID, persona.Role, queue)
	if err != nil {
		queue.Publish(ctx, events.New(events.TypeStage1ModelError, events.ModelErrorPayload{
			Backend: m.BackendID, MemberID: m.AdvisorID, Error: err.Error(),
		}))
		deliver(memberResult{index: index, err: err})
		return
	}

	n := atomic.AddInt32(calls, 1)
	stageTotal, runningTotal := accountant.Record("stage1", toTokensUsage(usage))
	queue.Publish(ctx, events.New(events.TypeUsageUpdate, events.UsageUpdatePayload{
		Stage:        "stage1",
		Usage:        toUsageTotals(stageTotal, int(n)),
		RunningTotal: toUsageTotals(runningTotal, int(n)),
	}))

	queue.Publish(ctx, events.New(events.TypeStage1ModelComplete, events.ModelCompletePayload{
		Backend: m.BackendID, AdvisorID: m.AdvisorID, Role: persona.Role, MemberID: m.AdvisorID, Text: text,
	}))

	deliver(memberResult{index: index, output: Output{
		AdvisorID: m.AdvisorID, BackendID: m.BackendID, Role: persona.Role, MemberID: m.AdvisorID,
		Text: text, Usage: usage,
	}})
}

// buildMessages constructs the system/history/user sequence: an optional
// persona system prompt, the last three exchanges of history, then the
// question, with a concise-response prefix when response_style requests it.
func buildMessages(persona config.Persona, q string, history []convstore.Turn, style config.ResponseStyle) []backend.Message {
	var msgs []backend.Message
	if persona.PersonaPrompt != "" {
		msgs = append(msgs, backend.Message{Role: backend.RoleSystem, Content: persona.PersonaPrompt})
	}
	msgs = append(msgs, historyProjection(history)...)

	question := q
	if style == config.ResponseStyleConcise {
		question = concisePrefix + q
	}
	msgs = append(msgs, backend.Message{Role: backend.RoleUser, Content: question})
	return msgs
}

// historyProjection renders the last three exchanges (user text and the
// prior assistant's stage3 response text, per convstore.Record.Turns) as
// backend messages in order.
func historyProjection(history []convstore.Turn) []backend.Message {
	recent := history
	if len(recent) > historyTurns {
		recent = recent[len(recent)-historyTurns:]
	}
	msgs := make([]backend.Message, 0, len(recent))
	for _, t := range recent {
		role := backend.RoleUser
		if t.Role == convstore.RoleAssistant {
			role = backend.RoleAssistant
		}
		msgs = append(msgs, backend.Message{Role: role, Content: t.Content})
	}
	return msgs
}

func toTokensUsage(u backend.Usage) tokens.Usage {
	return tokens.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
	}
}

func toUsageTotals(u tokens.Usage, calls int) events.UsageTotals {
	return events.UsageTotals{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
		Calls:            calls,
	}
}
