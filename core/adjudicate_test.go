package core

import (
	"testing"

	llmclient "consensus-core/llm-client"
	"github.com/stretchr/testify/assert"
)

var (
	judgeAudits = []ReasoningAudit{
		{Provider: llmclient.ProviderOpenAI, RQS: 40},
		{Provider: llmclient.ProviderGemini, RQS: 95, UncertaintyFlag: true},
		{Provider: llmclient.ProviderOpenRouter, RQS: 90},
	}
	judgeResponses = []llmclient.Response{
		{Provider: llmclient.ProviderOpenAI, Content: "openai answer"},
		{Provider: llmclient.ProviderGemini, Content: "gemini answer"},
		{Provider: llmclient.ProviderOpenRouter, Content: "openrouter answer"},
	}
)

func TestParseVerdict(t *testing.T) {
	raw := `WINNER: openrouter
IS_AMBIGUOUS: yes
FINAL_ANSWER: Line one.
Line two with Reasoning: inside.
CONFIDENCE: 77
REASONING: Best chain of logic.
DISSENT_NOTE: OpenAI guessed.`

	v := ParseVerdict(raw, judgeResponses, judgeAudits)

	assert.Equal(t, llmclient.ProviderOpenRouter, v.Winner)
	assert.True(t, v.IsAmbiguous)
	assert.Equal(t, "Line one.\nLine two with Reasoning: inside.", v.FinalAnswer)
	assert.Equal(t, 77, v.Confidence)
	assert.Equal(t, "Best chain of logic.", v.Reasoning)
	assert.Equal(t, "OpenAI guessed.", v.DissentNote)
	assert.False(t, v.Fallback)
}

func TestParseVerdictBoldLabels(t *testing.T) {
	raw := "**WINNER:** gemini\n**IS_AMBIGUOUS:** NO\n**FINAL_ANSWER:** Paris\n**CONFIDENCE:** 80\n**REASONING:** r\n**DISSENT_NOTE:** d"

	v := ParseVerdict(raw, judgeResponses, judgeAudits)

	assert.Equal(t, llmclient.ProviderGemini, v.Winner)
	assert.False(t, v.IsAmbiguous)
	assert.Equal(t, "Paris", v.FinalAnswer)
	assert.Equal(t, 80, v.Confidence)
	assert.Equal(t, "r", v.Reasoning)
	assert.Equal(t, "d", v.DissentNote)
}

func TestParseVerdictDefaults(t *testing.T) {
	v := ParseVerdict("I like all of them.", judgeResponses, judgeAudits)

	// Highest RQS.
	assert.Equal(t, llmclient.ProviderGemini, v.Winner)
	assert.False(t, v.IsAmbiguous)
	assert.Equal(t, DefaultJudgeConfidence, v.Confidence)
	assert.Equal(t, "gemini answer", v.FinalAnswer)
}

func TestParseVerdictWinner(t *testing.T) {
	tests := []struct {
		line string
		want llmclient.Provider
	}{
		{"WINNER: [Gemini]", llmclient.ProviderGemini},
		{"**WINNER:** OPENAI", llmclient.ProviderOpenAI},
		{"winner: the openrouter response", llmclient.ProviderOpenRouter},
		{"WINNER: perplexity", llmclient.ProviderGemini}, // not audited
		{"WINNER: synthesized", llmclient.ProviderGemini},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict(tt.line, judgeResponses, judgeAudits).Winner)
		})
	}
}

func TestParseVerdictConfidence(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"CONFIDENCE: 85", 85},
		{"CONFIDENCE: [85]", 85},
		{"CONFIDENCE: 85%", 85},
		{"CONFIDENCE: 150", 100},
		{"CONFIDENCE: -5", 0},
		{"CONFIDENCE: 0", 0},
		{"CONFIDENCE: high", DefaultJudgeConfidence},
		{"CONFIDENCE:", DefaultJudgeConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict(tt.line, judgeResponses, judgeAudits).Confidence)
		})
	}
}

func TestParseVerdictAmbiguity(t *testing.T) {
	for line, want := range map[string]bool{
		"IS_AMBIGUOUS: YES":          true,
		"IS_AMBIGUOUS: [yes]":        true,
		"IS_AMBIGUOUS: NO":           false,
		"IS_AMBIGUOUS: YES, somewhat": false,
		"IS_AMBIGUOUS:":              false,
	} {
		assert.Equal(t, want, ParseVerdict(line, judgeResponses, judgeAudits).IsAmbiguous, line)
	}
}

func TestParseVerdictEmptyFinalAnswerUsesWinnerContent(t *testing.T) {
	v := ParseVerdict("WINNER: openai\nFINAL_ANSWER:\nCONFIDENCE: 50", judgeResponses, judgeAudits)
	assert.Equal(t, "openai answer", v.FinalAnswer)
}

func TestFallbackVerdict(t *testing.T) {
	v := FallbackVerdict(judgeResponses, judgeAudits)

	assert.True(t, v.Fallback)
	assert.Equal(t, llmclient.ProviderGemini, v.Winner)
	assert.Equal(t, 95, v.Confidence)
	assert.True(t, v.IsAmbiguous)
	assert.Equal(t, "gemini answer", v.FinalAnswer)

	empty := FallbackVerdict(nil, nil)
	assert.True(t, empty.Fallback)
	assert.Equal(t, "Unable to determine answer.", empty.FinalAnswer)
}

func TestHighestRQSTies(t *testing.T) {
	tests := []struct {
		name   string
		audits []ReasoningAudit
		want   llmclient.Provider
	}{
		{
			name: "two way tie",
			audits: []ReasoningAudit{
				{Provider: llmclient.ProviderOpenAI, RQS: 75},
				{Provider: llmclient.ProviderGemini, RQS: 75},
			},
			want: llmclient.ProviderGemini,
		},
		{
			name: "tie below a later max",
			audits: []ReasoningAudit{
				{Provider: llmclient.ProviderOpenAI, RQS: 60},
				{Provider: llmclient.ProviderGemini, RQS: 60},
				{Provider: llmclient.ProviderOpenRouter, RQS: 80},
			},
			want: llmclient.ProviderOpenRouter,
		},
		{
			name: "tie after an earlier max",
			audits: []ReasoningAudit{
				{Provider: llmclient.ProviderOpenAI, RQS: 80},
				{Provider: llmclient.ProviderGemini, RQS: 60},
				{Provider: llmclient.ProviderOpenRouter, RQS: 80},
			},
			want: llmclient.ProviderOpenRouter,
		},
		{
			name:   "single",
			audits: []ReasoningAudit{{Provider: llmclient.ProviderOpenAI, RQS: 10}},
			want:   llmclient.ProviderOpenAI,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FallbackVerdict(judgeResponses, tt.audits).Winner)
			assert.Equal(t, tt.want, ParseVerdict("no labels here", judgeResponses, tt.audits).Winner)
		})
	}
}
