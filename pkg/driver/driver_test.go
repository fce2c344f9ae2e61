package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/events"
)

func testDeps() (Deps, *config.Council) {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{Content: "answer from A"}},
		&backend.FakeBackend{BackendID: "model-b", Result: backend.CompleteResult{Content: "answer from B"}},
		&backend.FakeBackend{BackendID: "title-model", Result: backend.CompleteResult{}}, // empty -> forces heuristic fallbacks
	)
	council := &config.Council{
		Name: "Test",
		Personas: []config.Persona{
			{ID: "a", DisplayName: "A", Role: "Engineer"},
			{ID: "b", DisplayName: "B", Role: "Strategist"},
		},
		Routing:           config.RoutingPolicy{MinAdvisors: 1, MaxAdvisors: 2, DefaultAdvisors: 2},
		AvailableBackends: []string{"model-a", "model-b"},
	}
	global := &config.GlobalConfig{
		Chairman:   "model-a",
		TitleModel: "title-model",
		Deliberation: config.DeliberationConfig{
			Temperatures: config.Temperatures{Stage1: 0.5, Stage2: 0.3, Stage3: 0.7},
		},
	}
	return Deps{Registry: registry, Global: global}, council
}

func collectEventTypes(t *testing.T, deps Deps, req Request) ([]string, Result) {
	t.Helper()
	var types []string
	res := Run(context.Background(), deps, req, func(ev events.Event) {
		types = append(types, ev.Type)
	})
	return types, res
}

func TestRunForceDirect(t *testing.T) {
	deps, council := testDeps()
	req := Request{ConversationID: "c1", CouncilID: "test", Council: council, Question: "hi", Mode: ModeFull, ForceDirect: true}

	types, res := collectEventTypes(t, deps, req)

	require.NoError(t, res.Err)
	assert.Equal(t, "answer from A", res.FinalText)
	assert.Equal(t, events.TypeExecutionMode, types[0])
	assert.Equal(t, events.TypeDone, types[len(types)-1])
	assert.NotContains(t, types, events.TypeStage1Init)
}

func TestRunChatModeStopsAfterStage1(t *testing.T) {
	deps, council := testDeps()
	req := Request{ConversationID: "c2", CouncilID: "test", Council: council, Question: "What should our team build next quarter?", Mode: ModeChat}

	types, res := collectEventTypes(t, deps, req)

	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.FinalText)
	assert.Contains(t, types, events.TypeStage1Init)
	assert.Contains(t, types, events.TypeStage1Complete)
	assert.NotContains(t, types, events.TypeStage2Init)
	assert.NotContains(t, types, events.TypeStage3Start)
	assert.Equal(t, events.TypeDone, types[len(types)-1])
}

func TestRunRankedModeStopsAfterStage2(t *testing.T) {
	deps, council := testDeps()
	req := Request{ConversationID: "c4", CouncilID: "test", Council: council, Question: "What should our team build next quarter?", Mode: ModeRanked}

	types, res := collectEventTypes(t, deps, req)

	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.FinalText)
	assert.Contains(t, types, events.TypeStage2Init)
	// The one permitted Stage-3 event in ranked mode is the synthetic
	// final emission; the chairman itself never runs.
	assert.Contains(t, types, events.TypeStage3Complete)
	assert.NotContains(t, types, events.TypeStage3Start)
	assert.NotContains(t, types, events.TypeStage3Token)
	assert.Equal(t, events.TypeDone, types[len(types)-1])
}

func TestRunFullModeRunsAllStages(t *testing.T) {
	deps, council := testDeps()
	req := Request{ConversationID: "c3", CouncilID: "test", Council: council, Question: "What should our team build next quarter?", Mode: ModeFull}

	types, res := collectEventTypes(t, deps, req)

	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.FinalText)
	assert.Contains(t, types, events.TypeStage1Complete)
	assert.Contains(t, types, events.TypeDone)
}

func TestCancelRegistry(t *testing.T) {
	r := NewCancelRegistry()
	assert.False(t, r.CancelSession("missing"))

	cancelled := false
	ctx, cancel := context.WithCancel(context.Background())
	_ = ctx
	r.RegisterSession("s1", func() { cancelled = true; cancel() })

	assert.True(t, r.CancelSession("s1"))
	assert.True(t, cancelled)

	r.UnregisterSession("s1")
	assert.False(t, r.CancelSession("s1"))
}
