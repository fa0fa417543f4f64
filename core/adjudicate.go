package core

import (
	"regexp"
	"strconv"
	"strings"

	llmclient "consensus-core/llm-client"
)

// DefaultJudgeConfidence is used when the judge's CONFIDENCE line is missing
// or unparsable.
const DefaultJudgeConfidence = 60

// Verdict is the adjudicator's decision.
type Verdict struct {
	Winner      llmclient.Provider `json:"winner"`
	FinalAnswer string             `json:"final_answer"`
	Confidence  int                `json:"confidence"`
	IsAmbiguous bool               `json:"is_ambiguous"`
	Reasoning   string             `json:"reasoning"`
	DissentNote string             `json:"dissent_note"`
	// Fallback is set when the judge returned nothing and the verdict was
	// chosen by highest RQS.
	Fallback bool `json:"fallback"`
}

var (
	leadingInt   = regexp.MustCompile(`^-?\d+`)
	nextLabel    = regexp.MustCompile(`^[ \t]*(?:\*\*)?[A-Z_]+(?:\*\*)?:`)
	labelPattern = map[string][2]*regexp.Regexp{}
)

func init() {
	for _, key := range []string{"WINNER", "IS_AMBIGUOUS", "FINAL_ANSWER", "CONFIDENCE", "REASONING", "DISSENT_NOTE"} {
		expr := `^[ \t]*(?:\*\*)?` + key + `(?:\*\*)?:(?:\*\*)?`
		labelPattern[key] = [2]*regexp.Regexp{
			regexp.MustCompile(`(?m)` + expr),
			regexp.MustCompile(`(?mi)` + expr),
		}
	}
}

// labelIndex locates the end of key's label line prefix, preferring the
// exact upper-case label.
func labelIndex(raw, key string) int {
	for _, re := range labelPattern[key] {
		if loc := re.FindStringIndex(raw); loc != nil {
			return loc[1]
		}
	}
	return -1
}

// extractLine returns the rest of key's line.
func extractLine(raw, key string) string {
	i := labelIndex(raw, key)
	if i < 0 {
		return ""
	}
	line, _, _ := strings.Cut(raw[i:], "\n")
	return strings.TrimSpace(line)
}

// extractBlock returns key's value up to the next upper-case label line.
func extractBlock(raw, key string) string {
	i := labelIndex(raw, key)
	if i < 0 {
		return ""
	}
	lines := strings.Split(raw[i:], "\n")
	end := len(lines)
	for j := 1; j < len(lines); j++ {
		if nextLabel.MatchString(lines[j]) {
			end = j
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[:end], "\n"))
}

// bareValue strips the brackets and emphasis judges copy from the template.
func bareValue(s string) string {
	return strings.TrimSpace(strings.Trim(s, " *[]"))
}

// highestRQS returns the audit with the greatest RQS; ties go to the
// latest. ok is false when audits is empty.
func highestRQS(audits []ReasoningAudit) (best ReasoningAudit, ok bool) {
	for i, a := range audits {
		if i == 0 || a.RQS >= best.RQS {
			best = a
		}
	}
	return best, len(audits) > 0
}

// ParseVerdict reads the judge's labelled-line reply. Winner candidates are
// the audited providers; an unrecognized winner falls back to the highest
// RQS.
func ParseVerdict(raw string, responses []llmclient.Response, audits []ReasoningAudit) Verdict {
	v := Verdict{
		Confidence:  DefaultJudgeConfidence,
		Reasoning:   extractLine(raw, "REASONING"),
		DissentNote: extractLine(raw, "DISSENT_NOTE"),
		FinalAnswer: extractBlock(raw, "FINAL_ANSWER"),
	}

	winner := strings.ToLower(extractLine(raw, "WINNER"))
	for _, a := range audits {
		if winner != "" && strings.Contains(winner, string(a.Provider)) {
			v.Winner = a.Provider
			break
		}
	}
	if v.Winner == "" {
		if best, ok := highestRQS(audits); ok {
			v.Winner = best.Provider
		}
	}

	v.IsAmbiguous = strings.EqualFold(bareValue(extractLine(raw, "IS_AMBIGUOUS")), "YES")

	if m := leadingInt.FindString(bareValue(extractLine(raw, "CONFIDENCE"))); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			v.Confidence = max(0, min(100, n))
		} else if strings.HasPrefix(m, "-") {
			v.Confidence = 0
		} else {
			v.Confidence = 100
		}
	}

	if v.FinalAnswer == "" {
		v.FinalAnswer = "Unable to synthesize answer."
		if r, ok := findResponse(responses, v.Winner); ok && r.HasContent() {
			v.FinalAnswer = r.Content
		}
	}
	return v
}

// FallbackVerdict picks the highest-RQS response when the judge produced
// no content.
func FallbackVerdict(responses []llmclient.Response, audits []ReasoningAudit) Verdict {
	v := Verdict{
		FinalAnswer: "Unable to determine answer.",
		Reasoning:   "Selected by highest reasoning quality score.",
		Fallback:    true,
	}
	best, ok := highestRQS(audits)
	if !ok {
		return v
	}
	v.Winner = best.Provider
	v.Confidence = best.RQS
	v.IsAmbiguous = best.UncertaintyFlag
	if r, found := findResponse(responses, best.Provider); found && r.HasContent() {
		v.FinalAnswer = r.Content
	}
	return v
}
