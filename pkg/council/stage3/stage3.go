// Package stage3 implements the Stage-3 synthesizer: a single call to the
// designated chairman backend that starts from the top-voted Stage-1
// response and folds in unique merits, conflicts, and minority opinions
// from Stage-2's analysis.
package stage3

import (
	"context"
	"strings"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/council/stage1"
	"github.com/council-engine/council/pkg/council/stage2"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/tokens"
)

// fallbackText is the literal fallback string returned when synthesis
// fails with no buffered content at all.
const fallbackText = "Error: Unable to generate synthesis."

const historyTurns = 6
const historyCharLimit = 500

// Result is Stage-3's output: the chairman's finalized text and any usage
// it incurred. Success is implied unless Err is set; on error, Text still
// carries whatever was buffered (or the literal fallback string).
type Result struct {
	BackendID string
	Text      string
	Usage     backend.Usage
	Err       error
}

// Synthesize drives the single chairman call, streaming
// stage3_thinking/stage3_token/stage3_complete events, and applies
// stripFakeImages to the terminal text. On stream error, it returns
// whatever content was buffered (or the literal fallback string if
// nothing was buffered) with Err set; the caller still persists a
// record either way.
func Synthesize(
	ctx context.Context,
	queue *events.Queue,
	accountant *tokens.Accountant,
	chairman backend.Backend,
	q string,
	stage1Outputs []stage1.Output,
	stage2Outputs []stage2.Output,
	analysis stage2.Analysis,
	history []convstore.Turn,
	temperature float32,
) Result {
	prompt := buildPrompt(q, stage1Outputs, stage2Outputs, analysis, history)

	queue.Publish(ctx, events.New(events.TypeStage3Start, nil))

	messages := []backend.Message{{Role: backend.RoleUser, Content: prompt}}
	temp := temperature
	stream, err := chairman.Stream(ctx, backend.CompleteRequest{Messages: messages, Temperature: &temp})
	if err != nil {
		queue.Publish(ctx, events.New(events.TypeStage3Error, events.ModelErrorPayload{Backend: chairman.ID(), Error: err.Error()}))
		return Result{BackendID: chairman.ID(), Text: fallbackText, Err: err}
	}

	var contentBuf, thinkingBuf strings.Builder
	tracker := tokens.NewTracker()
	var usage backend.Usage
	var streamErr error

drain:
	for chunk := range stream {
		switch chunk.Kind {
		case backend.ChunkThinking:
			thinkingBuf.WriteString(chunk.Delta)
			elapsed, tps := tracker.RecordToken(tokens.EstimateTokens(chunk.Delta))
			queue.Publish(ctx, events.New(events.TypeStage3Thinking, events.TokenPayload{
				Backend: chairman.ID(), Delta: chunk.Delta, Content: thinkingBuf.String(),
				TokensPerSecond: tps, ElapsedSeconds: elapsed,
			}))
		case backend.ChunkContent:
			contentBuf.WriteString(chunk.Delta)
			elapsed, tps := tracker.RecordToken(tokens.EstimateTokens(chunk.Delta))
			queue.Publish(ctx, events.New(events.TypeStage3Token, events.TokenPayload{
				Backend: chairman.ID(), Delta: chunk.Delta, Content: contentBuf.String(),
				TokensPerSecond: tps, ElapsedSeconds: elapsed,
			}))
		case backend.ChunkComplete:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			break drain
		case backend.ChunkError:
			streamErr = chunk.Err
			break drain
		}
	}

	if streamErr != nil {
		queue.Publish(ctx, events.New(events.TypeStage3Error, events.ModelErrorPayload{Backend: chairman.ID(), Error: streamErr.Error()}))
		text := contentBuf.String()
		if text == "" {
			text = fallbackText
		} else {
			text = stage1.StripFakeImages(text)
		}
		return Result{BackendID: chairman.ID(), Text: text, Usage: usage, Err: &deliberr.PartialOutputError{Cause: streamErr, PartialText: contentBuf.String(), PartialThinking: thinkingBuf.String()}}
	}

	final := contentBuf.String()
	if final == "" && thinkingBuf.String() != "" {
		final = thinkingBuf.String()
	}
	final = stage1.StripFakeImages(final)
	if final == "" {
		final = fallbackText
	}

	_, runningTotal := accountant.Record("stage3", toTokensUsage(usage))
	queue.Publish(ctx, events.New(events.TypeUsageUpdate, events.UsageUpdatePayload{
		Stage: "stage3", Usage: toUsageTotals(toTokensUsage(usage), 1), RunningTotal: toUsageTotals(runningTotal, 1),
	}))

	queue.Publish(ctx, events.New(events.TypeStage3Complete, events.ModelCompletePayload{Backend: chairman.ID(), Text: final}))

	return Result{BackendID: chairman.ID(), Text: final, Usage: usage}
}

func toTokensUsage(u backend.Usage) tokens.Usage {
	return tokens.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost}
}

func toUsageTotals(u tokens.Usage, calls int) events.UsageTotals {
	return events.UsageTotals{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens, Cost: u.Cost, Calls: calls}
}
