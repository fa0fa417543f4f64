package core

import (
	llmclient "consensus-core/llm-client"
)

// BuildAgreementMatrix records every reviewer -> reviewed vote among
// responders. Pairs without a critique show as partial.
func BuildAgreementMatrix(responders []llmclient.Provider, critiques []Critique) AgreementMatrix {
	matrix := make(AgreementMatrix, len(responders))
	for _, reviewer := range responders {
		row := make(map[llmclient.Provider]Vote, len(responders)-1)
		for _, reviewed := range responders {
			if reviewer == reviewed {
				continue
			}
			row[reviewed] = VotePartial
			for _, c := range critiques {
				if c.Reviewer == reviewer && c.Reviewed == reviewed {
					row[reviewed] = c.Vote
					break
				}
			}
		}
		matrix[reviewer] = row
	}
	return matrix
}

// MeanRQS is the half-up rounded mean RQS, or 50 with no audits.
func MeanRQS(audits []ReasoningAudit) int {
	if len(audits) == 0 {
		return 50
	}
	sum := 0
	for _, a := range audits {
		sum += a.RQS
	}
	n := len(audits)
	return (2*sum + n) / (2 * n)
}

// LabelFor buckets a confidence score.
func LabelFor(score int) ConfidenceLabel {
	switch {
	case score >= 90:
		return LabelUnanimous
	case score >= 75:
		return LabelHigh
	case score >= 55:
		return LabelModerate
	default:
		return LabelLow
	}
}

// ConsensusScore is the quality-driven confidence of a set of audits.
type ConsensusScore struct {
	Score  int
	Label  ConfidenceLabel
	Matrix AgreementMatrix
}

// ScoreConsensus derives confidence from mean reasoning quality, never from
// vote counts; the matrix is informational.
func ScoreConsensus(responders []llmclient.Provider, critiques []Critique, audits []ReasoningAudit) ConsensusScore {
	score := MeanRQS(audits)
	return ConsensusScore{
		Score:  score,
		Label:  LabelFor(score),
		Matrix: BuildAgreementMatrix(responders, critiques),
	}
}
