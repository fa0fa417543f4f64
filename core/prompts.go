package core

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	llmclient "consensus-core/llm-client"
)

// InitialSystemPrompt asks every provider for the four-section answer
// format the auditor understands.
const InitialSystemPrompt = `You are participating in a rigorous multi-AI verification system.
Your answer will be critically reviewed by other AI systems.

You MUST follow this exact format:

**Answer:**
[Your direct, precise answer to the question]

**Reasoning:**
[Step-by-step logical reasoning. Number each step. Be explicit about your premises.]
[If you cannot determine the answer from the given information alone, say so clearly and explain why.]

**Confidence:** [High / Medium / Low]

**Uncertainties:**
[Any ambiguities, missing information, or edge cases that affect your answer]
[If the question lacks sufficient information for a definitive answer, state this explicitly]

IMPORTANT RULES:
- Do NOT guess if you are uncertain
- Do NOT go with what seems most popular, reason independently
- If the statement or question is ambiguous or lacks context, say "Cannot be determined" and explain why
- Your job is to be CORRECT, not to agree with others`

// JudgeSystemPrompt is sent with the adjudication prompt.
const JudgeSystemPrompt = "You are a rigorous logic judge. You select answers based on reasoning quality, never popularity."

const critiqueTemplate = `You are a CRITICAL LOGIC REVIEWER in a multi-AI verification system.
Your job is to evaluate the QUALITY OF REASONING, not just whether you agree with the answer.

Original Question: "{{.Question}}"

Below are responses from {{len .Responses}} other AI systems:
{{range .Responses}}
--- AI Response {{.Index}} ({{.Provider}}, Reasoning Score: {{.RQS}}/100) ---
{{.Content}}
{{end}}
For EACH response, critically evaluate:
1. Are the premises correct and complete?
2. Does the reasoning logically lead to the conclusion?
3. Did the AI correctly handle ambiguity and uncertainty?
4. Is the confidence level appropriate given the reasoning?
5. Are there logical flaws, false assumptions, or missing considerations?

IMPORTANT: If a response says "Cannot be determined" or "insufficient information",
evaluate whether that is LOGICALLY CORRECT given the question. It might be the best answer.

Vote AGREE only if you find the REASONING sound, not just because the answer matches yours.
Vote DISAGREE if the reasoning has logical flaws, even if the final answer happens to be popular.

Use exactly these provider names: {{.Names}}.

Format your response EXACTLY as JSON (no markdown fences):
{
  "reviews": [
    {
      "provider": "<provider_name>",
      "vote": "agree|partial|disagree",
      "reasoningQuality": "strong|adequate|weak",
      "logicalFlaws": ["flaw1", "flaw2"],
      "factualErrors": ["error1"],
      "handledAmbiguityCorrectly": true,
      "explanation": "Your detailed evaluation"
    }
  ]
}`

const refinementTemplate = `You are refining your answer based on peer logical review.

Original Question: "{{.Question}}"

Your original answer (Reasoning Quality Score: {{.RQS}}/100):
{{.Answer}}

Peer reviews of your reasoning:
{{range .Critiques}}- {{.Reviewer}} voted {{.Vote}}: {{.Text}}
{{end}}
Instructions:
1. Carefully read each critique
2. If a critique correctly identifies a logical flaw in YOUR reasoning, REVISE
3. If a critique is simply disagreeing without valid logical grounds, DEFEND with stronger reasoning
4. If you said "Cannot be determined" and critics disagree, only revise if they give a LOGICAL reason why the question IS determinable
5. Do NOT revise just because you are in the minority. The minority can be correct

Format:
**Decision:** [REVISED / DEFENDED]
**Why:** [Your explicit reasoning for revising or defending]
**Updated Answer:**
[Your refined or defended answer, using the full structured format]`

const adjudicationTemplate = `You are the final reasoning judge in a multi-AI verification system.
Your job: select the MOST LOGICALLY CORRECT answer, NOT the majority answer.

ORIGINAL QUESTION: "{{.Question}}"

AI RESPONSES WITH REASONING QUALITY SCORES:
{{range .Blocks}}
=== {{.Provider}} | Reasoning Quality Score: {{.RQS}}/100 ===
Flags: {{.Flags}}
Acknowledged ambiguity: {{.Ambiguity}}
Detected paradox: {{.Paradox}}
Conclusion: {{.Conclusion}}
---
Full Response:
{{.Content}}
{{end}}
ELEVATED FOR CONSIDERATION (high reasoning quality or correctly flagged ambiguity):
{{.Elevated}}

YOUR RULES:
1. DO NOT select an answer just because most of the AIs gave it
2. SELECT the answer with the strongest logical reasoning chain
3. If a question cannot be answered from given information alone, "Cannot be determined" IS a valid correct answer
4. A minority answer with RQS > 70 should be preferred over a majority answer with RQS < 50
5. If you detect the question is ambiguous or lacks sufficient context, say so clearly

RESPOND IN THIS EXACT FORMAT:
WINNER: [{{.Choices}}]
IS_AMBIGUOUS: [YES|NO]
FINAL_ANSWER: [The complete best answer, copied or synthesized from the winner]
CONFIDENCE: [0-100]
REASONING: [2-3 sentences explaining WHY you chose this answer based on reasoning quality, not popularity]
DISSENT_NOTE: [Brief note on what the other AIs got wrong in their reasoning]`

var (
	critiqueTmpl     = template.Must(template.New("critique").Parse(critiqueTemplate))
	refinementTmpl   = template.Must(template.New("refinement").Parse(refinementTemplate))
	adjudicationTmpl = template.Must(template.New("adjudication").Parse(adjudicationTemplate))
)

// ElevatedRQS is the score above which the adjudicator is told to give a
// response special consideration.
const ElevatedRQS = 70

// render executes a template over plain string/int data. Execution can only
// fail on a template bug.
func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("executing %s template: %v", t.Name(), err))
	}
	return buf.String()
}

// ReviewTarget is one response shown to a reviewer.
type ReviewTarget struct {
	Provider llmclient.Provider
	Content  string
	RQS      int
}

// BuildCritiquePrompt asks a reviewer to judge the reasoning of every
// other responder and reply with a fence-free JSON object.
func BuildCritiquePrompt(question string, others []ReviewTarget) string {
	type entry struct {
		Index    int
		Provider string
		RQS      int
		Content  string
	}
	entries := make([]entry, len(others))
	names := make([]string, len(others))
	for i, o := range others {
		entries[i] = entry{Index: i + 1, Provider: strings.ToUpper(string(o.Provider)), RQS: o.RQS, Content: o.Content}
		names[i] = string(o.Provider)
	}
	return render(critiqueTmpl, struct {
		Question  string
		Responses []entry
		Names     string
	}{question, entries, strings.Join(names, ", ")})
}

// BuildRefinementPrompt asks a provider to revise or defend its answer
// against the critiques leveled at it.
func BuildRefinementPrompt(question, answer string, rqs int, against []Critique) string {
	type entry struct{ Reviewer, Vote, Text string }
	entries := make([]entry, len(against))
	for i, c := range against {
		entries[i] = entry{
			Reviewer: strings.ToUpper(string(c.Reviewer)),
			Vote:     strings.ToUpper(string(c.Vote)),
			Text:     c.Text,
		}
	}
	return render(refinementTmpl, struct {
		Question  string
		Answer    string
		RQS       int
		Critiques []entry
	}{question, answer, rqs, entries})
}

// BuildAdjudicationPrompt lays out every audit with its response for the
// judge. Responses scoring above ElevatedRQS or acknowledging ambiguity are
// named as elevated.
func BuildAdjudicationPrompt(question string, audits []ReasoningAudit, responses []llmclient.Response) string {
	type block struct {
		Provider           string
		RQS                int
		Flags              string
		Ambiguity, Paradox bool
		Conclusion         string
		Content            string
	}

	blocks := make([]block, 0, len(audits))
	var elevated, choices []string
	for _, a := range audits {
		flags := make([]string, len(a.Flags))
		for i, f := range a.Flags {
			flags[i] = string(f)
		}
		b := block{
			Provider:   strings.ToUpper(string(a.Provider)),
			RQS:        a.RQS,
			Flags:      strings.Join(flags, ", "),
			Ambiguity:  a.UncertaintyFlag,
			Paradox:    a.ParadoxFlag,
			Conclusion: truncateRunes(a.Conclusion, 300),
			Content:    "N/A",
		}
		if b.Flags == "" {
			b.Flags = "none"
		}
		if r, ok := findResponse(responses, a.Provider); ok && r.Content != "" {
			b.Content = truncateRunes(r.Content, 600)
		}
		blocks = append(blocks, b)

		if a.UncertaintyFlag || a.RQS > ElevatedRQS {
			elevated = append(elevated, string(a.Provider))
		}
		choices = append(choices, string(a.Provider))
	}

	elevatedNames := strings.Join(elevated, ", ")
	if elevatedNames == "" {
		elevatedNames = "none"
	}
	return render(adjudicationTmpl, struct {
		Question string
		Blocks   []block
		Elevated string
		Choices  string
	}{question, blocks, elevatedNames, strings.Join(choices, "|")})
}

func findResponse(responses []llmclient.Response, p llmclient.Provider) (llmclient.Response, bool) {
	for _, r := range responses {
		if r.Provider == p {
			return r, true
		}
	}
	return llmclient.Response{}, false
}
