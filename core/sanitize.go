package core

import (
	"regexp"
	"strings"
)

var (
	injectionPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bignore (all )?previous instructions?\b`),
		regexp.MustCompile(`(?i)\bsystem prompt\b`),
	}
	markupTag = regexp.MustCompile(`</?[^>]+(>|$)`)
)

// SanitizePrompt trims, truncates to maxRunes, neutralizes known injection
// phrasings and strips markup tags. It is not a security boundary.
func SanitizePrompt(prompt string, maxRunes int) string {
	s := truncateRunes(strings.TrimSpace(prompt), maxRunes)
	for _, re := range injectionPhrases {
		s = re.ReplaceAllLiteralString(s, "[filtered]")
	}
	return markupTag.ReplaceAllLiteralString(s, "")
}
