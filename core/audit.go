package core

import (
	"regexp"
	"strings"
	"unicode/utf8"

	llmclient "consensus-core/llm-client"
)

type section int

const (
	sectionAnswer section = iota
	sectionReasoning
	sectionConfidence
	sectionUncertainties
)

var sectionAliases = map[section][]string{
	sectionAnswer:        {"answer"},
	sectionReasoning:     {"reasoning", "explanation"},
	sectionConfidence:    {"confidence"},
	sectionUncertainties: {"uncertainties", "caveats"},
}

var (
	sectionStart = map[section]*regexp.Regexp{}
	// A plain "Label:" line ends the previous section, as do bold and
	// heading lines.
	sectionEnd *regexp.Regexp
)

func init() {
	var all []string
	for s, aliases := range sectionAliases {
		alt := strings.Join(aliases, "|")
		sectionStart[s] = regexp.MustCompile(`(?im)^[ \t]*(?:(?:#{1,6}[ \t]*|\*\*)(?:` + alt + `)\b(?:\*\*)?[ \t]*:?|(?:` + alt + `)[ \t]*:)[ \t]*(?:\*\*)?`)
		all = append(all, aliases...)
	}
	sectionEnd = regexp.MustCompile(`(?i)\n\*\*|\n##|\n[ \t]*(?:` + strings.Join(all, "|") + `)[ \t]*:`)
}

// extractSection returns the trimmed body of the first non-empty section
// labelled with one of s's aliases, or "".
func extractSection(content string, s section) string {
	for _, loc := range sectionStart[s].FindAllStringIndex(content, -1) {
		body := content[loc[1]:]
		if end := sectionEnd.FindStringIndex(body); end != nil {
			body = body[:end[0]]
		}
		if body = strings.TrimSpace(body); body != "" {
			return body
		}
	}
	return ""
}

// reasoningLines keeps the lines of a reasoning section long enough to carry
// an argument step.
func reasoningLines(reasoning string) []string {
	var lines []string
	for _, line := range strings.Split(reasoning, "\n") {
		if utf8.RuneCountInString(strings.TrimSpace(line)) > 15 {
			lines = append(lines, line)
		}
	}
	return lines
}

var (
	uncertaintyKeywords = []string{
		"cannot be determined", "cannot determine", "insufficient information",
		"ambiguous", "unclear", "depends on", "without more context",
		"single statement", "cannot conclude", "not enough information",
		"need more", "impossible to say", "indeterminate", "underdetermined",
	}
	paradoxKeywords     = []string{"paradox", "self-referential", "circular", "contradiction", "undefined"}
	strongClaimKeywords = []string{"definitely", "certainly", "absolutely", "obviously", "clearly"}
)

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// antonymPairs are affirmative/negative forms; the affirmative appearing
// before the negative marks the text as self-refuting.
var antonymPairs = [][2]*regexp.Regexp{
	{regexp.MustCompile(`(?i)\bis true\b`), regexp.MustCompile(`(?i)\bis false\b`)},
	{regexp.MustCompile(`(?i)\bcan\b`), regexp.MustCompile(`(?i)\bcannot\b`)},
	{regexp.MustCompile(`(?i)\bpossible\b`), regexp.MustCompile(`(?i)\bimpossible\b`)},
}

func selfRefuting(text string) bool {
	for _, pair := range antonymPairs {
		pos := pair[0].FindStringIndex(text)
		neg := pair[1].FindStringIndex(text)
		if pos != nil && neg != nil && pos[0] < neg[0] {
			return true
		}
	}
	return false
}

// Component weights in percent.
const (
	weightReasoning   = 30
	weightConclusion  = 20
	weightUncertainty = 25
	weightConfidence  = 15
	weightCoherence   = 10
)

func reasoningDepthScore(lines int) int {
	switch {
	case lines == 0:
		return 10
	case lines >= 4:
		return 100
	default:
		return lines * 100 / 4
	}
}

func confidenceScore(confidence string, overconfident bool) int {
	lower := strings.ToLower(confidence)
	switch {
	case overconfident:
		return 20
	case strings.Contains(lower, "high") || strings.Contains(lower, "certain"):
		return 70
	case strings.Contains(lower, "medium") || strings.Contains(lower, "moderate"):
		return 85
	default:
		return 90
	}
}

// Audit scores the reasoning quality of one response text. It is pure:
// the same input always yields the same audit.
func Audit(provider llmclient.Provider, content string) ReasoningAudit {
	lower := strings.ToLower(content)

	answer := extractSection(content, sectionAnswer)
	reasoning := extractSection(content, sectionReasoning)
	confidence := extractSection(content, sectionConfidence)

	steps := nonNil(reasoningLines(reasoning))
	premises := steps[:min(3, len(steps))]

	audit := ReasoningAudit{
		Provider:        provider,
		Premises:        premises,
		ReasoningSteps:  steps,
		Conclusion:      answer,
		Confidence:      confidence,
		UncertaintyFlag: containsAny(lower, uncertaintyKeywords),
		ParadoxFlag:     containsAny(lower, paradoxKeywords),
		Flags:           []Flag{},
	}
	if audit.Conclusion == "" {
		audit.Conclusion = truncateRunes(content, 200)
	}

	overconfident := containsAny(lower, strongClaimKeywords) && len(steps) < 2
	refuting := selfRefuting(answer + " " + reasoning)

	if audit.UncertaintyFlag {
		audit.Flags = append(audit.Flags, FlagAcknowledgedAmbiguity)
	}
	if audit.ParadoxFlag {
		audit.Flags = append(audit.Flags, FlagParadoxDetected)
	}
	if overconfident {
		audit.Flags = append(audit.Flags, FlagOverconfident)
	}
	if refuting {
		audit.Flags = append(audit.Flags, FlagSelfRefuting)
	}

	c := ScoreComponents{
		Reasoning:   reasoningDepthScore(len(steps)),
		Conclusion:  100,
		Uncertainty: 50,
		Confidence:  confidenceScore(confidence, overconfident),
		Coherence:   100,
	}
	switch {
	case utf8.RuneCountInString(answer) < 5:
		c.Conclusion = 20
	case refuting:
		c.Conclusion = 0
	}
	if audit.UncertaintyFlag {
		c.Uncertainty = 100
	}
	if refuting {
		c.Coherence = 0
	}
	audit.Components = c

	weighted := c.Reasoning*weightReasoning +
		c.Conclusion*weightConclusion +
		c.Uncertainty*weightUncertainty +
		c.Confidence*weightConfidence +
		c.Coherence*weightCoherence
	// Half-up rounding of weighted/100.
	audit.RQS = (weighted + 50) / 100

	return audit
}

// HasFlag reports whether the audit carries f.
func (a ReasoningAudit) HasFlag(f Flag) bool {
	for _, have := range a.Flags {
		if have == f {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
