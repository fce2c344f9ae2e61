// Package aggregate implements Borda-style score aggregation across Stage-2
// evaluators, plus ranking-conflict and minority-opinion detection. Every
// function here is pure so the numeric outcomes are reproducible from the
// parsed rankings alone.
package aggregate

import (
	"fmt"
	"math"
	"sort"
)

// EvaluatorRanking is one Stage-2 evaluator's contribution: the backend id
// that produced it (used to resolve mutual opposition) and its parsed
// ranking, a list of bare labels ("A", "B", ...) in best-to-worst order.
type EvaluatorRanking struct {
	EvaluatorBackendID string
	ParsedRanking      []string
}

// Severity of a detected conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ConflictKind distinguishes the two conflict detectors.
type ConflictKind string

const (
	ConflictRankingSwap     ConflictKind = "ranking_swap"
	ConflictMutualOpposition ConflictKind = "mutual_opposition"
)

// Conflict is one detected disagreement between evaluators.
type Conflict struct {
	Kind        ConflictKind
	Label       string
	Severity    Severity
	Description string
}

// DissentDirection describes which way a minority opinion leans.
type DissentDirection string

const (
	DissentHigher DissentDirection = "higher"
	DissentLower  DissentDirection = "lower"
)

// MinorityOpinion records a label whose position was contested by a
// significant minority of evaluators.
type MinorityOpinion struct {
	Label     string
	Direction DissentDirection
	Dissenters []string
	Average    float64
}

// positionMaps returns, per evaluator index, a map of label -> 1-indexed
// position within that evaluator's parsed ranking.
func positionMaps(rankings []EvaluatorRanking) []map[string]int {
	maps := make([]map[string]int, len(rankings))
	for i, r := range rankings {
		m := make(map[string]int, len(r.ParsedRanking))
		for pos, label := range r.ParsedRanking {
			m[label] = pos + 1
		}
		maps[i] = m
	}
	return maps
}

// WeightedScores computes the Borda score per label: for each evaluator
// with a parsed ranking of length n, the label in position i (1-indexed)
// scores n-i+1 points, summed across evaluators. A label a given evaluator
// did not rank scores 0 from that evaluator and does not affect any other
// label.
func WeightedScores(rankings []EvaluatorRanking) map[string]float64 {
	scores := make(map[string]float64)
	for _, r := range rankings {
		n := len(r.ParsedRanking)
		for i, label := range r.ParsedRanking {
			scores[label] += float64(n - i)
		}
	}
	return scores
}

// TopResponse returns the label with the maximum weighted score, ties
// broken by earliest occurrence in labelOrder (panel order, i.e. "A"
// before "B"). labelOrder must list every label that can appear in scores.
func TopResponse(scores map[string]float64, labelOrder []string) (label string, score float64) {
	best := math.Inf(-1)
	bestLabel := ""
	for _, l := range labelOrder {
		s, ok := scores[l]
		if !ok {
			continue
		}
		if s > best {
			best = s
			bestLabel = l
		}
	}
	return bestLabel, best
}

// DetectConflicts finds ranking-swap and mutual-opposition disagreements.
//
// Ranking-swap: for each label appearing in at least two evaluators'
// position maps, compute min_pos/max_pos. spread = max-min. spread >= 3 is
// high severity if spread >= 4 else medium; spread == 2 is low.
//
// Mutual opposition: for each pair of evaluators (a,b), visited once per
// unordered pair so a mutually opposed pair yields one conflict, whose
// backend ids are also present as labels (the evaluator must also be a
// responder; otherwise the pair contributes nothing), let n =
// max(|a's map|,|b's map|), threshold = max(3, n-1). If both
// pos_of_b_by_a >= threshold and pos_of_a_by_b >= threshold and n >= 3,
// record a high-severity mutual_opposition conflict.
func DetectConflicts(rankings []EvaluatorRanking, labelToBackend map[string]string) []Conflict {
	var conflicts []Conflict
	maps := positionMaps(rankings)

	// Ranking-swap.
	allLabels := make(map[string]bool)
	for _, m := range maps {
		for label := range m {
			allLabels[label] = true
		}
	}
	labels := sortedKeys(allLabels)
	for _, label := range labels {
		minPos, maxPos, count := math.MaxInt32, 0, 0
		for _, m := range maps {
			if pos, ok := m[label]; ok {
				count++
				if pos < minPos {
					minPos = pos
				}
				if pos > maxPos {
					maxPos = pos
				}
			}
		}
		if count < 2 {
			continue
		}
		spread := maxPos - minPos
		switch {
		case spread >= 4:
			conflicts = append(conflicts, Conflict{
				Kind: ConflictRankingSwap, Label: label, Severity: SeverityHigh,
				Description: fmt.Sprintf("%s ranked #%d by one evaluator but #%d by another", label, minPos, maxPos),
			})
		case spread == 3:
			conflicts = append(conflicts, Conflict{
				Kind: ConflictRankingSwap, Label: label, Severity: SeverityMedium,
				Description: fmt.Sprintf("%s ranked #%d by one evaluator but #%d by another", label, minPos, maxPos),
			})
		case spread == 2:
			conflicts = append(conflicts, Conflict{
				Kind: ConflictRankingSwap, Label: label, Severity: SeverityLow,
				Description: fmt.Sprintf("%s positions spread by %d across evaluators", label, spread),
			})
		}
	}

	// Mutual opposition.
	backendToLabel := make(map[string]string, len(labelToBackend))
	for label, backend := range labelToBackend {
		backendToLabel[backend] = label
	}
	seenPairs := make(map[[2]int]bool)
	for a := range rankings {
		for b := range rankings {
			if a == b || seenPairs[[2]int{b, a}] {
				continue
			}
			seenPairs[[2]int{a, b}] = true

			labelA, okA := backendToLabel[rankings[a].EvaluatorBackendID]
			labelB, okB := backendToLabel[rankings[b].EvaluatorBackendID]
			if !okA || !okB {
				continue
			}
			n := maxInt(len(maps[a]), len(maps[b]))
			if n < 3 {
				continue
			}
			threshold := maxInt(3, n-1)

			posOfBByA, okBA := maps[a][labelB]
			posOfAByB, okAB := maps[b][labelA]
			if !okBA || !okAB {
				continue
			}
			if posOfBByA >= threshold && posOfAByB >= threshold {
				conflicts = append(conflicts, Conflict{
					Kind:     ConflictMutualOpposition,
					Label:    fmt.Sprintf("%s/%s", labelA, labelB),
					Severity: SeverityHigh,
					Description: fmt.Sprintf(
						"%s and %s rank each other last among %d responses", labelA, labelB, n),
				})
			}
		}
	}

	return conflicts
}

// DetectMinorityOpinions finds labels whose ranked position split the
// evaluators into a dissenting minority. For each label ranked by at least
// two evaluators, avg is the mean position; evaluators whose position is
// >= avg+1.5 are "dissenters_low" (ranked it lower than consensus, i.e. a
// worse/higher-numbered position); evaluators whose position is <= avg-1.5
// are "dissenters_high" (ranked it better than consensus). A group of size
// >= max(1, floor(thresholdFraction * num_evaluators)) records a minority
// opinion in that direction. With fewer than three evaluators it returns
// nil without examining any label.
func DetectMinorityOpinions(rankings []EvaluatorRanking, labelToBackend map[string]string, thresholdFraction float64) []MinorityOpinion {
	if len(rankings) < 3 {
		return nil
	}
	maps := positionMaps(rankings)
	minDissenters := maxInt(1, int(thresholdFraction*float64(len(rankings))))

	allLabels := make(map[string]bool)
	for _, m := range maps {
		for label := range m {
			allLabels[label] = true
		}
	}

	var out []MinorityOpinion
	for _, label := range sortedKeys(allLabels) {
		var positions []int
		var evaluators []string
		for i, m := range maps {
			if pos, ok := m[label]; ok {
				positions = append(positions, pos)
				evaluators = append(evaluators, rankings[i].EvaluatorBackendID)
			}
		}
		if len(positions) < 2 {
			continue
		}
		sum := 0
		for _, p := range positions {
			sum += p
		}
		avg := float64(sum) / float64(len(positions))

		var dissentersHigh, dissentersLow []string
		for i, p := range positions {
			diff := float64(p) - avg
			if diff <= -1.5 {
				dissentersHigh = append(dissentersHigh, evaluators[i])
			} else if diff >= 1.5 {
				dissentersLow = append(dissentersLow, evaluators[i])
			}
		}
		if len(dissentersHigh) >= minDissenters {
			out = append(out, MinorityOpinion{Label: label, Direction: DissentHigher, Dissenters: dissentersHigh, Average: avg})
		}
		if len(dissentersLow) >= minDissenters {
			out = append(out, MinorityOpinion{Label: label, Direction: DissentLower, Dissenters: dissentersLow, Average: avg})
		}
	}
	return out
}

// AveragedBackendScores derives backend -> averaged score by averaging the
// weighted scores of all labels that backend owns (a backend may appear
// more than once across labels if it serves more than one panel member in
// unusual configurations; the common case is a 1:1 label:backend mapping).
func AveragedBackendScores(weighted map[string]float64, labelToBackend map[string]string) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for label, score := range weighted {
		backend, ok := labelToBackend[label]
		if !ok {
			continue
		}
		sums[backend] += score
		counts[backend]++
	}
	out := make(map[string]float64, len(sums))
	for backend, sum := range sums {
		out[backend] = sum / float64(counts[backend])
	}
	return out
}

// FormatAnalysisSummary renders the WEIGHTED RANKINGS / CONFLICTS DETECTED /
// MINORITY OPINIONS block fed into the Stage-3 synthesis prompt.
func FormatAnalysisSummary(weighted map[string]float64, labelOrder []string, conflicts []Conflict, minority []MinorityOpinion) string {
	s := "WEIGHTED RANKINGS:\n"
	for _, label := range labelOrder {
		if score, ok := weighted[label]; ok {
			s += fmt.Sprintf("  %s: %.1f points\n", label, score)
		}
	}
	if len(conflicts) > 0 {
		s += "\nCONFLICTS DETECTED:\n"
		for _, c := range conflicts {
			s += fmt.Sprintf("  [%s/%s] %s\n", c.Kind, c.Severity, c.Description)
		}
	}
	if len(minority) > 0 {
		s += "\nMINORITY OPINIONS:\n"
		for _, m := range minority {
			s += fmt.Sprintf("  %s: %d evaluator(s) rank it %s than consensus (avg %.1f)\n",
				m.Label, len(m.Dissenters), m.Direction, m.Average)
		}
	}
	return s
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
