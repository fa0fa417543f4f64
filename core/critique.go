package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	llmclient "consensus-core/llm-client"
	"github.com/modfin/henry/slicez"
)

type critiqueReply struct {
	Reviews []critiqueReview `json:"reviews"`
}

type critiqueReview struct {
	Provider                  string   `json:"provider"`
	Vote                      string   `json:"vote"`
	ReasoningQuality          string   `json:"reasoningQuality"`
	LogicalFlaws              []string `json:"logicalFlaws"`
	FactualErrors             []string `json:"factualErrors"`
	HandledAmbiguityCorrectly bool     `json:"handledAmbiguityCorrectly"`
	Explanation               string   `json:"explanation"`
}

var codeFence = regexp.MustCompile("```(?:json)?\\n?")

// decodeCritiques strictly decodes a reviewer's JSON reply. Entries naming a
// provider outside reviewed, or carrying an unknown vote, are dropped; a
// reply with no surviving entries is malformed.
func decodeCritiques(reviewer llmclient.Provider, reviewed []llmclient.Provider, raw string) ([]Critique, error) {
	cleaned := strings.TrimSpace(codeFence.ReplaceAllString(raw, ""))

	var reply critiqueReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		// Some models wrap the object in prose.
		start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCritique, err)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &reply); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCritique, err)
		}
	}

	seen := make(map[llmclient.Provider]bool, len(reply.Reviews))
	var out []Critique
	for _, r := range reply.Reviews {
		p := llmclient.Provider(strings.ToLower(strings.TrimSpace(r.Provider)))
		vote := Vote(strings.ToLower(strings.TrimSpace(r.Vote)))
		if !slicez.Contains(reviewed, p) || p == reviewer || seen[p] || !vote.Valid() {
			continue
		}
		seen[p] = true
		out = append(out, Critique{
			Reviewer:         reviewer,
			Reviewed:         p,
			Vote:             vote,
			Text:             r.Explanation,
			FactualErrors:    nonNil(r.FactualErrors),
			LogicalFlaws:     nonNil(r.LogicalFlaws),
			ReasoningQuality: r.ReasoningQuality,
			HandledAmbiguity: r.HandledAmbiguityCorrectly,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid reviews among %d entries", ErrMalformedCritique, len(reply.Reviews))
	}
	return out, nil
}

// keywordVote recovers a single vote from free text.
func keywordVote(raw string) Vote {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "disagree"):
		return VoteDisagree
	case strings.Contains(lower, "partial"):
		return VotePartial
	default:
		return VoteAgree
	}
}

// degradedCritiques applies one keyword vote to every reviewed provider,
// keeping the raw reply as the critique text.
func degradedCritiques(reviewer llmclient.Provider, reviewed []llmclient.Provider, raw string) []Critique {
	vote := keywordVote(raw)
	return slicez.Map(reviewed, func(p llmclient.Provider) Critique {
		return Critique{
			Reviewer:      reviewer,
			Reviewed:      p,
			Vote:          vote,
			Text:          raw,
			FactualErrors: []string{},
			LogicalFlaws:  []string{},
			Degraded:      true,
		}
	})
}

// ParseCritiques turns one critique call into critiques of every reviewed
// provider the reply covers. The returned error is non-nil when the strict
// decode failed and the degraded keyword path produced the critiques; the
// critiques are usable either way. The call's tokens and cost are split
// evenly across the resulting critiques.
func ParseCritiques(reviewer llmclient.Provider, reviewed []llmclient.Provider, resp llmclient.Response) ([]Critique, error) {
	critiques, err := decodeCritiques(reviewer, reviewed, resp.Content)
	if err != nil {
		critiques = degradedCritiques(reviewer, reviewed, resp.Content)
	}
	shareUsage(critiques, resp.Tokens(), resp.CostUSD)
	return critiques, err
}

func shareUsage(critiques []Critique, tokens int, cost float64) {
	n := len(critiques)
	if n == 0 {
		return
	}
	for i := range critiques {
		critiques[i].TokensUsed = tokens / n
		critiques[i].CostUSD = cost / float64(n)
	}
	critiques[0].TokensUsed += tokens % n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
