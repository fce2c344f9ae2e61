package classify

import "strings"

// ExtractJSON pulls the first top-level JSON object or array out of a raw
// LLM response, tolerating a surrounding ```json fenced code block (a
// common deviation from "respond with ONLY a JSON object"). Returns
// ok=false if no balanced object/array is found. Shared with pkg/route,
// whose Router prompt has the identical "respond with ONLY a JSON object"
// contract and the same fencing failure mode.
func ExtractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", false
	}
	open, close := s[start], closingFor(s[start])

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func closingFor(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}
