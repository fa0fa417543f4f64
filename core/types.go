package core

import (
	llmclient "consensus-core/llm-client"
)

// Vote is a reviewer's judgment of another provider's reasoning.
type Vote string

const (
	VoteAgree    Vote = "agree"
	VotePartial  Vote = "partial"
	VoteDisagree Vote = "disagree"
)

// Valid reports whether v is one of the three known votes.
func (v Vote) Valid() bool {
	switch v {
	case VoteAgree, VotePartial, VoteDisagree:
		return true
	}
	return false
}

// ConfidenceLabel buckets a confidence score.
type ConfidenceLabel string

const (
	LabelUnanimous ConfidenceLabel = "unanimous"
	LabelHigh      ConfidenceLabel = "high"
	LabelModerate  ConfidenceLabel = "moderate"
	LabelLow       ConfidenceLabel = "low"
)

// Flag is a qualitative marker attached to an audit.
type Flag string

const (
	FlagAcknowledgedAmbiguity Flag = "acknowledged-ambiguity"
	FlagParadoxDetected       Flag = "paradox-detected"
	FlagOverconfident         Flag = "overconfident"
	FlagSelfRefuting          Flag = "self-refuting"
)

// ScoreComponents are the five weighted inputs of the reasoning quality score.
type ScoreComponents struct {
	Reasoning   int `json:"reasoning"`
	Conclusion  int `json:"conclusion"`
	Uncertainty int `json:"uncertainty"`
	Confidence  int `json:"confidence"`
	Coherence   int `json:"coherence"`
}

// ReasoningAudit is the structured extraction and score derived from one
// response's text. It is never patched; a new response gets a new audit.
type ReasoningAudit struct {
	Provider        llmclient.Provider `json:"provider"`
	Premises        []string           `json:"premises"`
	ReasoningSteps  []string           `json:"reasoning_steps"`
	Conclusion      string             `json:"conclusion"`
	Confidence      string             `json:"confidence"`
	UncertaintyFlag bool               `json:"uncertainty_flag"`
	ParadoxFlag     bool               `json:"paradox_flag"`
	Flags           []Flag             `json:"flags"`
	Components      ScoreComponents    `json:"components"`
	RQS             int                `json:"rqs"`
}

// Critique is one directed review edge, reviewer -> reviewed.
type Critique struct {
	Reviewer         llmclient.Provider `json:"reviewer_provider"`
	Reviewed         llmclient.Provider `json:"reviewed_provider"`
	Vote             Vote               `json:"vote"`
	Text             string             `json:"critique_text"`
	FactualErrors    []string           `json:"factual_errors"`
	LogicalFlaws     []string           `json:"reasoning_issues"`
	ReasoningQuality string             `json:"reasoning_quality,omitempty"`
	HandledAmbiguity bool               `json:"handled_ambiguity_correctly"`
	// Degraded is set when the reviewer's reply could not be decoded and the
	// vote was recovered by keyword scan.
	Degraded   bool    `json:"degraded"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// AgreementMatrix maps reviewer -> reviewed -> vote. Display only.
type AgreementMatrix map[llmclient.Provider]map[llmclient.Provider]Vote

// ConsensusResult is the final verdict of a pipeline run.
type ConsensusResult struct {
	FinalAnswer string `json:"final_answer"`
	// ConfidenceScore is the adjudicator's reported confidence.
	ConfidenceScore int `json:"confidence_score"`
	// ConfidenceLabel buckets the mean RQS of the initial audits.
	ConfidenceLabel ConfidenceLabel `json:"confidence_label"`
	// MeanRQS is the rounded mean reasoning quality of the adjudicated audits,
	// after any refinement.
	MeanRQS           int             `json:"mean_rqs"`
	AgreementMatrix   AgreementMatrix `json:"agreement_matrix"`
	RefinementApplied bool            `json:"refinement_applied"`
	RefinementRounds  int             `json:"refinement_rounds"`
	TotalTokens       int             `json:"total_tokens"`
	TotalCostUSD      float64         `json:"total_cost_usd"`
	ProcessingTimeMs  int64           `json:"processing_time_ms"`

	Winner               llmclient.Provider `json:"winner"`
	IsAmbiguous          bool               `json:"is_ambiguous"`
	AdjudicatorReasoning string             `json:"adjudicator_reasoning"`
	DissentNote          string             `json:"dissent_note"`
	JudgeFallback        bool               `json:"judge_fallback"`
}

// PipelineResult is the full record of one run handed to the caller.
type PipelineResult struct {
	MessageID        string               `json:"message_id"`
	UserPrompt       string               `json:"user_prompt"`
	InitialResponses []llmclient.Response `json:"initial_responses"`
	Critiques        []Critique           `json:"critiques"`
	RefinedResponses []llmclient.Response `json:"refined_responses,omitempty"`
	Audits           []ReasoningAudit     `json:"audits"`
	Consensus        ConsensusResult      `json:"consensus"`
}
