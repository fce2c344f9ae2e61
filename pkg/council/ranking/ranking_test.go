package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRanking_IsolatesFinalRankingSection(t *testing.T) {
	text := `Response A: solid answer, 4/5.
Response B: a bit thin, 3/5.

FINAL RANKING:
1. Response A
2. Response B
3. Response C`

	got := ParseRanking(text)
	assert.Equal(t, []string{"Response A", "Response B", "Response C"}, got)
}

func TestParseRanking_DedupesPreservingFirstOccurrence(t *testing.T) {
	text := "FINAL RANKING\n1. A\n2. B\n3. A"
	got := ParseRanking(text)
	assert.Equal(t, []string{"Response A", "Response B"}, got)
}

func TestParseRanking_FallsBackToWholeTextWithoutMarker(t *testing.T) {
	text := "1. Response B\n2. Response A"
	got := ParseRanking(text)
	assert.Equal(t, []string{"Response B", "Response A"}, got)
}

func TestParseRanking_CaseInsensitiveMarkerAndLabels(t *testing.T) {
	text := "final ranking\n1. response a\n2. response b"
	got := ParseRanking(text)
	assert.Equal(t, []string{"Response A", "Response B"}, got)
}

func TestExtractQualityRatings_FiveScaleUnchanged(t *testing.T) {
	got := ExtractQualityRatings("Response A: 4/5. Response B(3.5/5)")
	assert.Equal(t, 4.0, got["A"])
	assert.Equal(t, 3.5, got["B"])
}

func TestExtractQualityRatings_TenScaleHalved(t *testing.T) {
	got := ExtractQualityRatings("Response A: 8/10")
	assert.Equal(t, 4.0, got["A"])
}

func TestExtractQualityRatings_FourOverTenNotHalved(t *testing.T) {
	// Halving is gated on value > 5, not on the written denominator, so
	// "4/10" is stored as 4.
	got := ExtractQualityRatings("Response A: 4/10")
	assert.Equal(t, 4.0, got["A"])
}

func TestExtractRubricScores_PerCriterion(t *testing.T) {
	text := "Clarity: A(8), Clarity: B(6)\nDepth: A(7)"
	got := ExtractRubricScores(text, []string{"Clarity", "Depth"})
	assert.Equal(t, 8.0, got["A"]["Clarity"])
	assert.Equal(t, 6.0, got["B"]["Clarity"])
	assert.Equal(t, 7.0, got["A"]["Depth"])
	_, hasDepth := got["B"]["Depth"]
	assert.False(t, hasDepth)
}

func TestExtractRubricScores_MissingCriterionOmitted(t *testing.T) {
	got := ExtractRubricScores("no rubric mentions here", []string{"Clarity"})
	assert.Empty(t, got)
}
