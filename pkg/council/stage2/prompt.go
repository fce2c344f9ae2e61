package stage2

import (
	"fmt"
	"strings"

	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/council/stage1"
)

// buildPrompt renders the single evaluation prompt every panel member
// receives: the labelled Stage-1 responses verbatim, an optional rubric
// block, and the fixed quality/ranking instruction set.
func buildPrompt(q string, outputs []stage1.Output, labels []string, rubric []config.RubricCriterion) string {
	var responses strings.Builder
	for i, out := range outputs {
		if i > 0 {
			responses.WriteString("\n\n")
		}
		fmt.Fprintf(&responses, "Response %s:\n%s", labels[i], out.Text)
	}

	var rubricText string
	if len(rubric) > 0 {
		var b strings.Builder
		b.WriteString("\nScore each response on these criteria (1-10):\n")
		for _, c := range rubric {
			fmt.Fprintf(&b, "- %s (weight: %v): %s\n", c.Name, c.Weight, c.Description)
		}
		rubricText = b.String()
	}

	rubricInstruction := ""
	if len(rubric) > 0 {
		rubricInstruction = "\n3. Score per rubric criterion (1-10)"
	}

	return fmt.Sprintf(`Evaluate these responses to: "%s"

%s
%s
For EACH response, provide:
1. Quality rating (1-5)
2. Brief feedback (1 sentence)%s

Then provide your FINAL RANKING:
1. Response X (N/5) - brief reason
2. Response Y (N/5) - brief reason
(etc.)`, q, responses.String(), rubricText, rubricInstruction)
}
