package server

import (
	"consensus-core/core"
	"consensus-core/store"
)

// ConsensusRequest is the body of POST /api/v1/consensus.
type ConsensusRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RateLimit reports what is left of the caller's daily allowance.
type RateLimit struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// ConsensusData is a pipeline result annotated for the caller.
type ConsensusData struct {
	*core.PipelineResult
	ConversationID string    `json:"conversation_id"`
	RateLimit      RateLimit `json:"rate_limit"`
}

type ConsensusResponse struct {
	Success bool          `json:"success"`
	Data    ConsensusData `json:"data"`
}

type HistoryResponse struct {
	Success       bool                 `json:"success"`
	Conversations []store.Conversation `json:"conversations,omitempty"`
	Messages      []store.Message      `json:"messages,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// ServiceStats represents statistics about the service's operation.
type ServiceStats struct {
	UptimeSeconds int64   `json:"uptime_seconds"`
	Runs          int64   `json:"runs"`
	FailedRuns    int64   `json:"failed_runs"`
	StoredRuns    int     `json:"stored_runs"`
	TotalTokens   int     `json:"total_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	SuccessRate   float64 `json:"success_rate"`
}
