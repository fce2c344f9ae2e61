package stage2

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/council/stage1"
	"github.com/council-engine/council/pkg/events"
	"github.com/council-engine/council/pkg/route"
	"github.com/council-engine/council/pkg/tokens"
)

func testCouncil() *config.Council {
	return &config.Council{
		Name: "personal",
		Personas: []config.Persona{
			{ID: "pragmatist", Role: "engineering lead"},
			{ID: "skeptic", Role: "risk analyst"},
			{ID: "optimist", Role: "product lead"},
		},
		Rubric: []config.RubricCriterion{{Name: "Clarity", Weight: 0.5}},
	}
}

func rankingText(order string) string {
	s := "Response A: 4/5 - good\n\nFINAL RANKING:\n"
	for i, c := range order {
		s += string(rune('1'+i)) + ". Response " + string(c) + " (4/5) - fine\n"
	}
	return s
}

func TestEvaluate_ThreeAdvisorBordaWinner(t *testing.T) {
	// Rankings [A,B,C], [B,A,C], [A,C,B] give A=8, B=6, C=4 and winner A.
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{Content: rankingText("ABC")}},
		&backend.FakeBackend{BackendID: "model-b", Result: backend.CompleteResult{Content: rankingText("BAC")}},
		&backend.FakeBackend{BackendID: "model-c", Result: backend.CompleteResult{Content: rankingText("ACB")}},
	)
	panel := []route.Member{
		{AdvisorID: "pragmatist", BackendID: "model-a"},
		{AdvisorID: "skeptic", BackendID: "model-b"},
		{AdvisorID: "optimist", BackendID: "model-c"},
	}
	stage1Outputs := []stage1.Output{
		{AdvisorID: "pragmatist", BackendID: "model-a", Text: "resp A"},
		{AdvisorID: "skeptic", BackendID: "model-b", Text: "resp B"},
		{AdvisorID: "optimist", BackendID: "model-c", Text: "resp C"},
	}
	queue := events.NewQueue(64)

	outputs, analysis, err := Evaluate(context.Background(), queue, tokens.NewAccountant(), nil, "personal",
		testCouncil(), registry, panel, stage1Outputs, "q", 0.3)
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	assert.Equal(t, 8.0, analysis.WeightedScores["A"])
	assert.Equal(t, 6.0, analysis.WeightedScores["B"])
	assert.Equal(t, 4.0, analysis.WeightedScores["C"])
	assert.Equal(t, "A", analysis.TopLabel)
	assert.Equal(t, "model-a", analysis.TopBackendID)
}

func TestEvaluate_PartialFailureStillAggregates(t *testing.T) {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{Content: rankingText("AB")}},
		&backend.FakeBackend{BackendID: "model-b", Err: assert.AnError},
	)
	panel := []route.Member{
		{AdvisorID: "pragmatist", BackendID: "model-a"},
		{AdvisorID: "skeptic", BackendID: "model-b"},
	}
	stage1Outputs := []stage1.Output{
		{AdvisorID: "pragmatist", BackendID: "model-a", Text: "resp A"},
		{AdvisorID: "skeptic", BackendID: "model-b", Text: "resp B"},
	}
	queue := events.NewQueue(32)

	outputs, analysis, err := Evaluate(context.Background(), queue, tokens.NewAccountant(), nil, "personal",
		testCouncil(), registry, panel, stage1Outputs, "q", 0.3)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.NotEmpty(t, analysis.TopLabel)
}

func TestStripResponsePrefix(t *testing.T) {
	out := stripResponsePrefix([]string{"Response A", "Response B"})
	assert.Equal(t, []string{"A", "B"}, out)
}

func TestBuildPrompt_IncludesRubricWhenPresent(t *testing.T) {
	outputs := []stage1.Output{{Text: "hello"}}
	rubric := []config.RubricCriterion{{Name: "Clarity", Weight: 0.5, Description: "is it clear"}}
	prompt := buildPrompt("q", outputs, []string{"A"}, rubric)
	assert.Contains(t, prompt, "Clarity")
	assert.Contains(t, prompt, "Score per rubric criterion")
}

func TestBuildPrompt_OmitsRubricInstructionWhenEmpty(t *testing.T) {
	outputs := []stage1.Output{{Text: "hello"}}
	prompt := buildPrompt("q", outputs, []string{"A"}, nil)
	assert.NotContains(t, prompt, "Score per rubric criterion")
}
