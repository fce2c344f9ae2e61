package stage1

import (
	"regexp"
	"strings"
)

// placeholderImage matches a markdown image reference whose URL we treat as
// a fake/placeholder asset: via.placeholder.com, any placeholder.* host, or
// example.com.
var placeholderImage = regexp.MustCompile(`!\[[^\]]*\]\((?:https?://)?(?:via\.placeholder\.com|placeholder\.[a-zA-Z0-9.-]+|example\.com)[^)\s]*\)`)

var extraBlankLines = regexp.MustCompile(`\n{3,}`)

// StripFakeImages removes markdown image references pointing at known
// placeholder hosts and collapses runs of 3+ newlines left behind to two,
// so a model's hallucinated image link doesn't leak into the synthesized
// response.
func StripFakeImages(text string) string {
	text = placeholderImage.ReplaceAllString(text, "")
	text = extraBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
