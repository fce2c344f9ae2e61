// Package ranking extracts ordered response labels, per-response quality
// ratings, and per-criterion rubric scores from an evaluator's free-form
// Stage-2 text. It is the only non-trivial textual contract in the
// pipeline, and is kept dependency-free so it can be table-tested in
// isolation from any Backend.
package ranking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	finalRankingRe = regexp.MustCompile(`(?is)FINAL RANKING[:\s]*(.+)`)
	rankingLineRe  = regexp.MustCompile(`(?im)(?:^|\n)\s*\d+\.\s*(?:Response\s+)?([A-Za-z])`)
	qualityRe      = regexp.MustCompile(`(?i)(?:Response\s+)?([A-Za-z])\s*[:(]\s*(\d+(?:\.\d+)?)\s*/\s*(?:5|10)`)
)

// ParseRanking isolates the text following the first case-insensitive
// "FINAL RANKING" occurrence (or the whole text if absent), then extracts
// numbered-list letters in order, deduplicated, preserving first
// occurrence. Returned as "Response X".
func ParseRanking(text string) []string {
	search := text
	if m := finalRankingRe.FindStringSubmatchIndex(text); m != nil {
		search = text[m[2]:m[3]]
	}

	matches := rankingLineRe.FindAllStringSubmatch(search, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		label := strings.ToUpper(m[1])
		if seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, fmt.Sprintf("Response %s", label))
	}
	return out
}

// ExtractQualityRatings scans for "<label>: <score>/5" or "<label>:
// <score>/10" patterns. A /10-scale rating is detected by value > 5 and
// halved so every stored rating sits on a [0,5] scale — matching the
// original implementation's literal threshold: a rating of exactly 5 or
// below is never halved, even when written as "4/10".
func ExtractQualityRatings(text string) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range qualityRe.FindAllStringSubmatch(text, -1) {
		label := strings.ToUpper(m[1])
		score, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if score > 5 {
			score /= 2
		}
		out[label] = score
	}
	return out
}

// ExtractRubricScores scans, for each criterion name, a
// "<criterion>: <label>(<score>)" style pattern and records label->score
// under that criterion. Criterion names are matched literally
// (regexp.QuoteMeta), case-insensitively.
func ExtractRubricScores(text string, criteria []string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(criteria))
	for _, criterion := range criteria {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(criterion) + `\s*[:\-]\s*(?:Response\s+)?([A-Za-z])\s*[:(]\s*(\d+(?:\.\d+)?)`)
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			label := strings.ToUpper(m[1])
			score, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			if out[label] == nil {
				out[label] = make(map[string]float64)
			}
			out[label][criterion] = score
		}
	}
	return out
}
