package backend

import "context"

// FakeBackend is an in-process test double: it returns a scripted
// CompleteResult/error and streams it back as a sequence of chunks, letting
// pipeline tests exercise fan-out and aggregation without a network call.
type FakeBackend struct {
	BackendID string
	Result    CompleteResult
	Err       error
}

func (f *FakeBackend) ID() string { return f.BackendID }

func (f *FakeBackend) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	return f.Result, f.Err
}

func (f *FakeBackend) Stream(ctx context.Context, req CompleteRequest) (<-chan Chunk, error) {
	if f.Err != nil {
		ch := make(chan Chunk, 1)
		ch <- Chunk{Kind: ChunkError, Err: f.Err}
		close(ch)
		return ch, nil
	}

	ch := make(chan Chunk, 4)
	go func() {
		defer close(ch)
		if f.Result.ReasoningContent != "" {
			ch <- Chunk{Kind: ChunkThinking, Delta: f.Result.ReasoningContent, Cumulative: f.Result.ReasoningContent}
		}
		if f.Result.Content != "" {
			ch <- Chunk{Kind: ChunkContent, Delta: f.Result.Content, Cumulative: f.Result.Content}
		}
		usage := f.Result.Usage
		ch <- Chunk{Kind: ChunkComplete, Cumulative: f.Result.Content, Usage: &usage}
	}()
	return ch, nil
}
