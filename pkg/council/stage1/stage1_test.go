package stage1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/deliberr"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/route"
	"github.com/council-engine/council/pkg/tokens"
)

func testCouncil() *config.Council {
	return &config.Council{
		Name: "personal",
		Personas: []config.Persona{
			{ID: "pragmatist", DisplayName: "The Pragmatist", Role: "engineering lead", PersonaPrompt: "You are pragmatic."},
			{ID: "skeptic", DisplayName: "The Skeptic", Role: "risk analyst"},
		},
	}
}

func TestCollect_HappyPath_AllMembersSucceed(t *testing.T) {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{Content: "answer A", Usage: backend.Usage{TotalTokens: 10}}},
		&backend.FakeBackend{BackendID: "model-b", Result: backend.CompleteResult{Content: "answer B", Usage: backend.Usage{TotalTokens: 20}}},
	)
	panel := []route.Member{
		{AdvisorID: "pragmatist", BackendID: "model-a", Reasoning: "fit"},
		{AdvisorID: "skeptic", BackendID: "model-b", Reasoning: "fit"},
	}
	queue := events.NewQueue(32)
	accountant := tokens.NewAccountant()

	out, err := Collect(context.Background(), queue, accountant, testCouncil(), registry, panel, "should we ship it", nil, config.ResponseStyleStandard, 0.5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "pragmatist", out[0].AdvisorID)
	assert.Equal(t, "answer A", out[0].Text)
	assert.Equal(t, "skeptic", out[1].AdvisorID)
	assert.Equal(t, "answer B", out[1].Text)

	total := accountant.Total()
	assert.Equal(t, 30, total.TotalTokens)

	drained := queue.Drain()
	var sawInit, sawComplete bool
	for _, ev := range drained {
		switch ev.Type {
		case events.TypeStage1Init:
			sawInit = true
		case events.TypeStage1Complete:
			sawComplete = true
		}
	}
	assert.True(t, sawInit)
	assert.True(t, sawComplete)
}

func TestCollect_PartialFailureContinuesWithSurvivors(t *testing.T) {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Err: errors.New("rate limited")},
		&backend.FakeBackend{BackendID: "model-b", Result: backend.CompleteResult{Content: "answer B"}},
	)
	panel := []route.Member{
		{AdvisorID: "pragmatist", BackendID: "model-a"},
		{AdvisorID: "skeptic", BackendID: "model-b"},
	}
	queue := events.NewQueue(32)
	out, err := Collect(context.Background(), queue, tokens.NewAccountant(), testCouncil(), registry, panel, "q", nil, config.ResponseStyleStandard, 0.5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "skeptic", out[0].AdvisorID)
}

func TestCollect_AllFailReturnsErrNoStage1Survivors(t *testing.T) {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Err: errors.New("down")},
		&backend.FakeBackend{BackendID: "model-b", Err: errors.New("down too")},
	)
	panel := []route.Member{
		{AdvisorID: "pragmatist", BackendID: "model-a"},
		{AdvisorID: "skeptic", BackendID: "model-b"},
	}
	queue := events.NewQueue(32)
	out, err := Collect(context.Background(), queue, tokens.NewAccountant(), testCouncil(), registry, panel, "q", nil, config.ResponseStyleStandard, 0.5)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, deliberr.ErrNoStage1Survivors))
}

func TestCollect_EmptyContentFallsBackToReasoning(t *testing.T) {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{ReasoningContent: "thought process only"}},
	)
	panel := []route.Member{{AdvisorID: "pragmatist", BackendID: "model-a"}}
	queue := events.NewQueue(8)

	out, err := Collect(context.Background(), queue, tokens.NewAccountant(), testCouncil(), registry, panel, "q", nil, config.ResponseStyleStandard, 0.5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "thought process only", out[0].Text)
}

func TestCollect_UnregisteredBackendCountsAsFailure(t *testing.T) {
	registry := backend.NewRegistry(&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{Content: "ok"}})
	panel := []route.Member{
		{AdvisorID: "pragmatist", BackendID: "model-a"},
		{AdvisorID: "skeptic", BackendID: "missing-model"},
	}
	queue := events.NewQueue(8)
	out, err := Collect(context.Background(), queue, tokens.NewAccountant(), testCouncil(), registry, panel, "q", nil, config.ResponseStyleStandard, 0.5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "pragmatist", out[0].AdvisorID)
}

func TestBuildMessages_ConciseStylePrependsInstruction(t *testing.T) {
	persona := config.Persona{ID: "pragmatist"}
	msgs := buildMessages(persona, "what should we do", nil, config.ResponseStyleConcise)
	last := msgs[len(msgs)-1]
	assert.Equal(t, concisePrefix+"what should we do", last.Content)
}

func TestBuildMessages_SystemPromptOmittedWhenPersonaHasNone(t *testing.T) {
	persona := config.Persona{ID: "skeptic"}
	msgs := buildMessages(persona, "q", nil, config.ResponseStyleStandard)
	for _, m := range msgs {
		assert.NotEqual(t, backend.RoleSystem, m.Role)
	}
}

func TestHistoryProjection_KeepsLastThreeExchanges(t *testing.T) {
	history := []convstore.Turn{
		{Role: convstore.RoleUser, Content: "u1"},
		{Role: convstore.RoleAssistant, Content: "a1"},
		{Role: convstore.RoleUser, Content: "u2"},
		{Role: convstore.RoleAssistant, Content: "a2"},
		{Role: convstore.RoleUser, Content: "u3"},
		{Role: convstore.RoleAssistant, Content: "a3"},
		{Role: convstore.RoleUser, Content: "u4"},
		{Role: convstore.RoleAssistant, Content: "a4"},
	}
	msgs := historyProjection(history)
	require.Len(t, msgs, 6)
	assert.Equal(t, "u2", msgs[0].Content)
	assert.Equal(t, "a4", msgs[5].Content)
}

func TestCollect_RespectsContextCancellation(t *testing.T) {
	slow := &slowBackend{id: "model-slow"}
	registry := backend.NewRegistry(slow)
	panel := []route.Member{{AdvisorID: "pragmatist", BackendID: "model-slow"}}
	queue := events.NewQueue(8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Collect(ctx, queue, tokens.NewAccountant(), testCouncil(), registry, panel, "q", nil, config.ResponseStyleStandard, 0.5)
	assert.Error(t, err)
}

// slowBackend never completes its stream within a test's cancellation
// window, exercising Collect's ctx.Done() path.
type slowBackend struct{ id string }

func (s *slowBackend) ID() string { return s.id }
func (s *slowBackend) Complete(ctx context.Context, req backend.CompleteRequest) (backend.CompleteResult, error) {
	<-ctx.Done()
	return backend.CompleteResult{}, ctx.Err()
}
func (s *slowBackend) Stream(ctx context.Context, req backend.CompleteRequest) (<-chan backend.Chunk, error) {
	// Never sends and never closes: drainStream blocks on this forever, so
	// the only way Collect returns is via its own ctx.Done() case.
	return make(chan backend.Chunk), nil
}
