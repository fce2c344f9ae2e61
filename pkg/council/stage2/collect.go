package stage2

import (
	"context"
	"fmt"
	"strings"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/tokens"
)

// drainStream mirrors stage1's stream drain for Stage-2's event set,
// additionally stamping the current round number onto each token event
// (always 1 today, since Stage-2 runs a single round).
func drainStream(ctx context.Context, stream <-chan backend.Chunk, backendID, memberID, role string, round int, queue *events.Queue) (text string, usage backend.Usage, err error) {
	var contentBuf, thinkingBuf strings.Builder
	tracker := tokens.NewTracker()

	for chunk := range stream {
		switch chunk.Kind {
		case backend.ChunkThinking:
			thinkingBuf.WriteString(chunk.Delta)
			elapsed, tps := tracker.RecordToken(tokens.EstimateTokens(chunk.Delta))
			queue.Publish(ctx, events.New(events.TypeStage2Thinking, events.TokenPayload{
				Backend: backendID, MemberID: memberID, Role: role,
				Delta: chunk.Delta, Content: thinkingBuf.String(),
				TokensPerSecond: tps, ElapsedSeconds: elapsed, Round: &round,
			}))
		case backend.ChunkContent:
			contentBuf.WriteString(chunk.Delta)
			elapsed, tps := tracker.RecordToken(tokens.EstimateTokens(chunk.Delta))
			queue.Publish(ctx, events.New(events.TypeStage2Token, events.TokenPayload{
				Backend: backendID, MemberID: memberID, Role: role,
				Delta: chunk.Delta, Content: contentBuf.String(),
				TokensPerSecond: tps, ElapsedSeconds: elapsed, Round: &round,
			}))
		case backend.ChunkComplete:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case backend.ChunkError:
			return "", backend.Usage{}, fmt.Errorf("%s: %w: %v", backendID, deliberr.ErrBackendTransport, chunk.Err)
		}
	}

	finalText := contentBuf.String()
	if finalText == "" && thinkingBuf.String() != "" {
		finalText = thinkingBuf.String()
	}
	return finalText, usage, nil
}
