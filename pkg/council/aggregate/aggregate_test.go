package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightedScores_ThreeAdvisorBordaWinner(t *testing.T) {
	// S1 — panel [a,b,c]; evaluators [A,B,C], [B,A,C], [A,C,B].
	rankings := []EvaluatorRanking{
		{EvaluatorBackendID: "a", ParsedRanking: []string{"A", "B", "C"}},
		{EvaluatorBackendID: "b", ParsedRanking: []string{"B", "A", "C"}},
		{EvaluatorBackendID: "c", ParsedRanking: []string{"A", "C", "B"}},
	}
	scores := WeightedScores(rankings)
	assert.Equal(t, 8.0, scores["A"])
	assert.Equal(t, 6.0, scores["B"])
	assert.Equal(t, 4.0, scores["C"])

	winner, score := TopResponse(scores, []string{"A", "B", "C"})
	assert.Equal(t, "A", winner)
	assert.Equal(t, 8.0, score)
}

func TestTopResponse_TieBreaksByEarliestLabel(t *testing.T) {
	scores := map[string]float64{"A": 5, "B": 5, "C": 3}
	winner, _ := TopResponse(scores, []string{"A", "B", "C"})
	assert.Equal(t, "A", winner)
}

func TestDetectConflicts_RankingSwap(t *testing.T) {
	// S2 — evaluators [A,B,C,D], [D,C,B,A].
	rankings := []EvaluatorRanking{
		{EvaluatorBackendID: "x", ParsedRanking: []string{"A", "B", "C", "D"}},
		{EvaluatorBackendID: "y", ParsedRanking: []string{"D", "C", "B", "A"}},
	}
	conflicts := DetectConflicts(rankings, nil)

	var bySeverityA, bySeverityD Severity
	for _, c := range conflicts {
		if c.Kind != ConflictRankingSwap {
			continue
		}
		if c.Label == "A" {
			bySeverityA = c.Severity
		}
		if c.Label == "D" {
			bySeverityD = c.Severity
		}
	}
	assert.Equal(t, SeverityMedium, bySeverityA)
	assert.Equal(t, SeverityMedium, bySeverityD)
}

func TestDetectConflicts_MutualOpposition(t *testing.T) {
	// S3 — three-panel; evaluator a ranks b last, evaluator b ranks a last.
	rankings := []EvaluatorRanking{
		{EvaluatorBackendID: "a", ParsedRanking: []string{"C", "A", "B"}},
		{EvaluatorBackendID: "b", ParsedRanking: []string{"C", "B", "A"}},
		{EvaluatorBackendID: "c", ParsedRanking: []string{"A", "B", "C"}},
	}
	labelToBackend := map[string]string{"A": "a", "B": "b", "C": "c"}

	conflicts := DetectConflicts(rankings, labelToBackend)

	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictMutualOpposition {
			found = true
			assert.Equal(t, SeverityHigh, c.Severity)
		}
	}
	assert.True(t, found, "expected a mutual_opposition conflict")
}

func TestDetectConflicts_MutualOpposition_NoOpWhenEvaluatorNotAResponder(t *testing.T) {
	// Evaluator backend ids that have no corresponding label must not
	// produce a mutual_opposition conflict (Open Question resolution).
	rankings := []EvaluatorRanking{
		{EvaluatorBackendID: "judge-1", ParsedRanking: []string{"C", "A", "B"}},
		{EvaluatorBackendID: "judge-2", ParsedRanking: []string{"C", "B", "A"}},
		{EvaluatorBackendID: "judge-3", ParsedRanking: []string{"A", "B", "C"}},
	}
	// No backend id in labelToBackend matches any EvaluatorBackendID above.
	labelToBackend := map[string]string{"A": "model-a", "B": "model-b", "C": "model-c"}

	conflicts := DetectConflicts(rankings, labelToBackend)
	for _, c := range conflicts {
		assert.NotEqual(t, ConflictMutualOpposition, c.Kind)
	}
}

func TestDetectMinorityOpinions_RequiresAtLeastThreeEvaluators(t *testing.T) {
	rankings := []EvaluatorRanking{
		{EvaluatorBackendID: "a", ParsedRanking: []string{"A", "B"}},
		{EvaluatorBackendID: "b", ParsedRanking: []string{"B", "A"}},
	}
	assert.Empty(t, DetectMinorityOpinions(rankings, nil, 0.3))
}

func TestDetectMinorityOpinions_FindsDissentingMinority(t *testing.T) {
	rankings := []EvaluatorRanking{
		{EvaluatorBackendID: "a", ParsedRanking: []string{"A", "B", "C"}},
		{EvaluatorBackendID: "b", ParsedRanking: []string{"A", "B", "C"}},
		{EvaluatorBackendID: "c", ParsedRanking: []string{"A", "B", "C"}},
		{EvaluatorBackendID: "d", ParsedRanking: []string{"C", "B", "A"}},
	}
	opinions := DetectMinorityOpinions(rankings, nil, 0.3)
	assert.NotEmpty(t, opinions)
}

func TestAveragedBackendScores(t *testing.T) {
	weighted := map[string]float64{"A": 8, "B": 6}
	labelToBackend := map[string]string{"A": "model-x", "B": "model-x"}
	avg := AveragedBackendScores(weighted, labelToBackend)
	assert.Equal(t, 7.0, avg["model-x"])
}

func TestWeightedScores_BordaMonotonicity(t *testing.T) {
	base := []EvaluatorRanking{
		{EvaluatorBackendID: "a", ParsedRanking: []string{"B", "A", "C"}},
		{EvaluatorBackendID: "b", ParsedRanking: []string{"A", "C", "B"}},
	}
	before := WeightedScores(base)

	// Adding an evaluator who ranks X ("A") first and nothing else, leaving
	// all other evaluators' rankings unchanged: A's score must not
	// decrease, and no other label's score may increase (the new
	// evaluator contributes zero points to labels absent from its list).
	withExtra := append(append([]EvaluatorRanking{}, base...),
		EvaluatorRanking{EvaluatorBackendID: "c", ParsedRanking: []string{"A"}})
	after := WeightedScores(withExtra)

	assert.Greater(t, after["A"], before["A"])
	assert.Equal(t, before["B"], after["B"])
	assert.Equal(t, before["C"], after["C"])
}
