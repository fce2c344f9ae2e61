package stage1

import (
	"context"
	"fmt"
	"strings"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/tokens"
)

// drainStream reads every chunk from one member's stream, publishing
// stage1_thinking/stage1_token deltas as they arrive, and returns the
// finalized text and usage once the terminal chunk is seen.
func drainStream(ctx context.Context, stream <-chan backend.Chunk, backendID, memberID, role string, queue *events.Queue) (text string, usage backend.Usage, err error) {
	var contentBuf, thinkingBuf strings.Builder
	tracker := tokens.NewTracker()

	for chunk := range stream {
		switch chunk.Kind {
		case backend.ChunkThinking:
			thinkingBuf.WriteString(chunk.Delta)
			elapsed, tps := tracker.RecordToken(tokens.EstimateTokens(chunk.Delta))
			queue.Publish(ctx, events.New(events.TypeStage1Thinking, events.TokenPayload{
				Backend: backendID, MemberID: memberID, Role: role,
				Delta: chunk.Delta, Content: thinkingBuf.String(),
				TokensPerSecond: tps, ElapsedSeconds: elapsed,
			}))
		case backend.ChunkContent:
			contentBuf.WriteString(chunk.Delta)
			elapsed, tps := tracker.RecordToken(tokens.EstimateTokens(chunk.Delta))
			queue.Publish(ctx, events.New(events.TypeStage1Token, events.TokenPayload{
				Backend: backendID, MemberID: memberID, Role: role,
				Delta: chunk.Delta, Content: contentBuf.String(),
				TokensPerSecond: tps, ElapsedSeconds: elapsed,
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
	return StripFakeImages(finalText), usage, nil
}
