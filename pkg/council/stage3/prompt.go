package stage3

import (
	"fmt"
	"strings"

	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/council/aggregate"
	"github.com/council-engine/council/pkg/council/stage1"
	"github.com/council-engine/council/pkg/council/stage2"
)

// buildPrompt composes the chairman prompt: history context, the question,
// the formatted analysis summary, the top-voted response quoted verbatim,
// the verbatim Stage-1 responses, and the verbatim Stage-2 rankings,
// closed by the fixed six-point instruction block.
func buildPrompt(
	q string,
	stage1Outputs []stage1.Output,
	stage2Outputs []stage2.Output,
	analysis stage2.Analysis,
	history []convstore.Turn,
) string {
	stage1Text := formatStage1(stage1Outputs)
	stage2Text := formatStage2(stage2Outputs)
	analysisText := aggregate.FormatAnalysisSummary(analysis.WeightedScores, sortedLabels(analysis.LabelToBackend), analysis.Conflicts, analysis.Minority)
	topInfo := formatTopInfo(analysis, stage1Outputs)
	historyContext := formatHistory(history)

	return fmt.Sprintf(`You are the Presenter of an LLM Council. Your job is to EDIT AND REFINE the top-voted response, incorporating the strongest points from other responses.

IMPORTANT: Do NOT write a completely new response. Start from the top-voted response and improve it.
%s
Current Question: %s

%s
%s

ALL Council Responses:
%s

Peer Rankings:
%s

Instructions:
1. Start from the top-voted response as your base
2. Incorporate the strongest unique points from other responses
3. Address any flagged minority opinions if they have merit
4. Note any significant conflicts between models
5. Use rich markdown formatting (headers, tables, lists, bold, code blocks)
6. DO NOT include images or image links

Provide the refined, synthesized final answer:`, historyContext, q, analysisText, topInfo, stage1Text, stage2Text)
}

func formatStage1(outputs []stage1.Output) string {
	parts := make([]string, 0, len(outputs))
	for _, o := range outputs {
		role := o.Role
		if role == "" {
			role = o.BackendID
		}
		parts = append(parts, fmt.Sprintf("%s (%s):\nResponse: %s", role, o.BackendID, o.Text))
	}
	return strings.Join(parts, "\n\n")
}

func formatStage2(outputs []stage2.Output) string {
	parts := make([]string, 0, len(outputs))
	for _, o := range outputs {
		role := o.Role
		if role == "" {
			role = o.EvaluatorBackendID
		}
		parts = append(parts, fmt.Sprintf("Evaluator: %s (%s)\nRanking: %s", role, o.EvaluatorBackendID, o.RawText))
	}
	return strings.Join(parts, "\n\n")
}

// formatTopInfo looks up the top-voted response's verbatim text, first via
// the label-to-member map (matching member id), then falling back to a
// backend-id match against Stage-1 outputs.
func formatTopInfo(analysis stage2.Analysis, stage1Outputs []stage1.Output) string {
	if analysis.TopLabel == "" {
		return ""
	}
	topMember, hasMember := analysis.LabelToMember[analysis.TopLabel]

	for _, o := range stage1Outputs {
		if hasMember && topMember.AdvisorID != "" && o.AdvisorID == topMember.AdvisorID {
			role := topMember.Role
			if role == "" {
				role = o.BackendID
			}
			return fmt.Sprintf("\n\nTOP-VOTED RESPONSE from %s (%s, score: %.1f):\n%s",
				role, analysis.TopLabel, analysis.TopScore, o.Text)
		}
	}
	for _, o := range stage1Outputs {
		if o.BackendID == analysis.TopBackendID {
			role := o.Role
			if role == "" {
				role = o.BackendID
			}
			return fmt.Sprintf("\n\nTOP-VOTED RESPONSE from %s (%s, score: %.1f):\n%s",
				role, analysis.TopLabel, analysis.TopScore, o.Text)
		}
	}
	return ""
}

func formatHistory(history []convstore.Turn) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > historyTurns {
		recent = recent[len(recent)-historyTurns:]
	}
	var lines []string
	for _, t := range recent {
		content := t.Content
		if len(content) > historyCharLimit {
			content = content[:historyCharLimit]
		}
		switch t.Role {
		case convstore.RoleUser:
			lines = append(lines, "User: "+content)
		case convstore.RoleAssistant:
			lines = append(lines, "Assistant: "+content)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\nPrior Conversation Context:\n" + strings.Join(lines, "\n\n") + "\n"
}

func sortedLabels(labelToBackend map[string]string) []string {
	labels := make([]string, 0, len(labelToBackend))
	for l := range labelToBackend {
		labels = append(labels, l)
	}
	// Labels are single uppercase letters assigned positionally ("A", "B",
	// ...); a plain string sort is also their panel-order sort.
	for i := 1; i < len(labels); i++ {
		for j := i; j > 0 && labels[j-1] > labels[j]; j-- {
			labels[j-1], labels[j] = labels[j], labels[j-1]
		}
	}
	return labels
}
