package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AvailablePreservesInsertionOrder(t *testing.T) {
	r := NewRegistry(
		&FakeBackend{BackendID: "gpt"},
		&FakeBackend{BackendID: "claude"},
		&FakeBackend{BackendID: "gemini"},
	)
	assert.Equal(t, []string{"gpt", "claude", "gemini"}, r.Available())

	b, ok := r.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", b.ID())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestFakeBackend_StreamEmitsContentThenComplete(t *testing.T) {
	fb := &FakeBackend{BackendID: "x", Result: CompleteResult{Content: "hello", Usage: Usage{TotalTokens: 5}}}
	ch, err := fb.Stream(context.Background(), CompleteRequest{})
	require.NoError(t, err)

	var kinds []ChunkKind
	for c := range ch {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []ChunkKind{ChunkContent, ChunkComplete}, kinds)
}

func TestFakeBackend_StreamEmitsErrorOnFailure(t *testing.T) {
	fb := &FakeBackend{BackendID: "x", Err: assertErr{}}
	ch, err := fb.Stream(context.Background(), CompleteRequest{})
	require.NoError(t, err)

	c := <-ch
	assert.Equal(t, ChunkError, c.Kind)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
