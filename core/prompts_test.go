package core

import (
	"strings"
	"testing"

	llmclient "consensus-core/llm-client"
	"github.com/stretchr/testify/assert"
)

func TestBuildCritiquePrompt(t *testing.T) {
	p := BuildCritiquePrompt("Is the sky green?", []ReviewTarget{
		{Provider: llmclient.ProviderGemini, Content: "No.", RQS: 40},
		{Provider: llmclient.ProviderPerplexity, Content: "Cannot be determined.", RQS: 90},
	})

	assert.Contains(t, p, `Original Question: "Is the sky green?"`)
	assert.Contains(t, p, "Below are responses from 2 other AI systems:")
	assert.Contains(t, p, "--- AI Response 1 (GEMINI, Reasoning Score: 40/100) ---\nNo.")
	assert.Contains(t, p, "--- AI Response 2 (PERPLEXITY, Reasoning Score: 90/100) ---\nCannot be determined.")
	assert.Contains(t, p, "Use exactly these provider names: gemini, perplexity.")
	assert.Contains(t, p, `"handledAmbiguityCorrectly": true`)
	assert.NotContains(t, p, "```")
}

func TestBuildRefinementPrompt(t *testing.T) {
	p := BuildRefinementPrompt("Q?", "my answer", 42, []Critique{
		{Reviewer: llmclient.ProviderOpenAI, Vote: VoteDisagree, Text: "premise 2 is false"},
		{Reviewer: llmclient.ProviderGemini, Vote: VotePartial, Text: "incomplete"},
	})

	assert.Contains(t, p, "Your original answer (Reasoning Quality Score: 42/100):\nmy answer")
	assert.Contains(t, p, "- OPENAI voted DISAGREE: premise 2 is false\n- GEMINI voted PARTIAL: incomplete\n")
	assert.Contains(t, p, "**Decision:** [REVISED / DEFENDED]")
	assert.Contains(t, p, "**Updated Answer:**")
}

func TestBuildAdjudicationPrompt(t *testing.T) {
	audits := []ReasoningAudit{
		{Provider: llmclient.ProviderOpenAI, RQS: 30, Flags: []Flag{}, Conclusion: "Paris"},
		{Provider: llmclient.ProviderGemini, RQS: 60, UncertaintyFlag: true, Flags: []Flag{FlagAcknowledgedAmbiguity}, Conclusion: "Unclear"},
		{Provider: llmclient.ProviderPerplexity, RQS: 71, Flags: []Flag{}, Conclusion: strings.Repeat("c", 400)},
	}
	responses := []llmclient.Response{
		{Provider: llmclient.ProviderOpenAI, Content: "Paris!"},
		{Provider: llmclient.ProviderGemini, Content: strings.Repeat("g", 700)},
	}

	p := BuildAdjudicationPrompt("Capital?", audits, responses)

	assert.Contains(t, p, "=== OPENAI | Reasoning Quality Score: 30/100 ===\nFlags: none\nAcknowledged ambiguity: false\nDetected paradox: false\nConclusion: Paris\n---\nFull Response:\nParis!\n")
	assert.Contains(t, p, "Flags: acknowledged-ambiguity")
	assert.Contains(t, p, strings.Repeat("g", 600)+"\n")
	assert.NotContains(t, p, strings.Repeat("g", 601))
	assert.Contains(t, p, "Conclusion: "+strings.Repeat("c", 300)+"\n")
	// No response for perplexity.
	assert.Contains(t, p, "Full Response:\nN/A\n")
	// Elevated: ambiguity flag or RQS above 70.
	assert.Contains(t, p, "correctly flagged ambiguity):\ngemini, perplexity\n")
	assert.Contains(t, p, "WINNER: [openai|gemini|perplexity]")
}

func TestBuildAdjudicationPromptNoneElevated(t *testing.T) {
	p := BuildAdjudicationPrompt("q", []ReasoningAudit{{Provider: llmclient.ProviderOpenAI, RQS: 70}}, nil)
	assert.Contains(t, p, "correctly flagged ambiguity):\nnone\n")
}
