package triage

import (
	"regexp"
	"strings"
)

var (
	reasoningBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<think>.*?</think>`),
		regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
		regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	}
	extraBlankLines = regexp.MustCompile(`\n{3,}`)
)

// StripReasoning removes model reasoning blocks and squeezes blank lines.
func StripReasoning(text string) string {
	for _, re := range reasoningBlocks {
		text = re.ReplaceAllString(text, "")
	}
	text = extraBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
