package core

import (
	"testing"

	llmclient "consensus-core/llm-client"
	"github.com/stretchr/testify/assert"
)

func TestLabelFor(t *testing.T) {
	tests := []struct {
		score int
		want  ConfidenceLabel
	}{
		{100, LabelUnanimous},
		{90, LabelUnanimous},
		{89, LabelHigh},
		{75, LabelHigh},
		{74, LabelModerate},
		{55, LabelModerate},
		{54, LabelLow},
		{0, LabelLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LabelFor(tt.score), tt.score)
	}
}

func TestMeanRQS(t *testing.T) {
	audits := func(scores ...int) []ReasoningAudit {
		out := make([]ReasoningAudit, len(scores))
		for i, s := range scores {
			out[i] = ReasoningAudit{RQS: s}
		}
		return out
	}
	assert.Equal(t, 50, MeanRQS(nil))
	assert.Equal(t, 75, MeanRQS(audits(75, 75)))
	assert.Equal(t, 76, MeanRQS(audits(75, 76)), "half rounds up")
	assert.Equal(t, 64, MeanRQS(audits(53, 53, 53, 98)))
	assert.Equal(t, 67, MeanRQS(audits(100, 100, 0)))
}

func TestBuildAgreementMatrix(t *testing.T) {
	responders := []llmclient.Provider{llmclient.ProviderOpenAI, llmclient.ProviderGemini, llmclient.ProviderPerplexity}
	critiques := []Critique{
		{Reviewer: llmclient.ProviderOpenAI, Reviewed: llmclient.ProviderGemini, Vote: VoteDisagree},
		{Reviewer: llmclient.ProviderGemini, Reviewed: llmclient.ProviderOpenAI, Vote: VoteAgree},
		// Not a responder; ignored.
		{Reviewer: llmclient.ProviderCohere, Reviewed: llmclient.ProviderOpenAI, Vote: VoteAgree},
	}

	m := BuildAgreementMatrix(responders, critiques)

	assert.Equal(t, AgreementMatrix{
		llmclient.ProviderOpenAI:     {llmclient.ProviderGemini: VoteDisagree, llmclient.ProviderPerplexity: VotePartial},
		llmclient.ProviderGemini:     {llmclient.ProviderOpenAI: VoteAgree, llmclient.ProviderPerplexity: VotePartial},
		llmclient.ProviderPerplexity: {llmclient.ProviderOpenAI: VotePartial, llmclient.ProviderGemini: VotePartial},
	}, m)
}

func TestScoreConsensusIgnoresVotes(t *testing.T) {
	responders := []llmclient.Provider{llmclient.ProviderOpenAI, llmclient.ProviderGemini}
	audits := []ReasoningAudit{{RQS: 95}, {RQS: 91}}
	allDisagree := []Critique{
		{Reviewer: llmclient.ProviderOpenAI, Reviewed: llmclient.ProviderGemini, Vote: VoteDisagree},
		{Reviewer: llmclient.ProviderGemini, Reviewed: llmclient.ProviderOpenAI, Vote: VoteDisagree},
	}

	s := ScoreConsensus(responders, allDisagree, audits)
	assert.Equal(t, 93, s.Score)
	assert.Equal(t, LabelUnanimous, s.Label)
}
