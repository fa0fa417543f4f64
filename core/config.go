package core

import (
	"fmt"
	"time"

	llmclient "consensus-core/llm-client"
)

// Config controls one Orchestrator. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Providers queried in the gather phase, in display order.
	Providers []llmclient.Provider `yaml:"providers"`

	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// FallbackProvider stands in for a provider that produced nothing after
	// its retries. Empty disables the fallback.
	FallbackProvider llmclient.Provider `yaml:"fallback_provider"`
	FallbackModel    string             `yaml:"fallback_model"`

	JudgeProvider llmclient.Provider `yaml:"judge_provider"`
	JudgeModel    string             `yaml:"judge_model"`

	// Refinement runs when the mean RQS of the initial audits is below this.
	RefinementThreshold int `yaml:"refinement_threshold"`
	MinResponses        int `yaml:"min_responses"`
	MaxPromptLength     int `yaml:"max_prompt_length"`
}

// DefaultConfig returns the production pipeline settings.
func DefaultConfig() Config {
	return Config{
		Providers: []llmclient.Provider{
			llmclient.ProviderOpenAI,
			llmclient.ProviderGemini,
			llmclient.ProviderPerplexity,
			llmclient.ProviderOpenRouter,
		},
		MaxRetries:          1,
		RetryBackoff:        time.Second,
		FallbackProvider:    llmclient.ProviderOpenRouter,
		FallbackModel:       "openai/gpt-4o-mini",
		JudgeProvider:       llmclient.ProviderOpenAI,
		RefinementThreshold: 75,
		MinResponses:        2,
		MaxPromptLength:     4000,
	}
}

// Validate rejects configurations the orchestrator cannot run.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: no providers configured", ErrInvalidConfig)
	}
	seen := make(map[llmclient.Provider]bool, len(c.Providers))
	for _, p := range c.Providers {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: provider %s listed twice", ErrInvalidConfig, p)
		}
		seen[p] = true
	}
	if !c.JudgeProvider.Valid() {
		return fmt.Errorf("%w: unknown judge provider %q", ErrInvalidConfig, c.JudgeProvider)
	}
	if c.FallbackProvider != "" && !c.FallbackProvider.Valid() {
		return fmt.Errorf("%w: unknown fallback provider %q", ErrInvalidConfig, c.FallbackProvider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry backoff must be >= 0", ErrInvalidConfig)
	}
	if c.MinResponses < 1 || c.MinResponses > len(c.Providers) {
		return fmt.Errorf("%w: min responses must be between 1 and %d", ErrInvalidConfig, len(c.Providers))
	}
	if c.RefinementThreshold < 0 || c.RefinementThreshold > 100 {
		return fmt.Errorf("%w: refinement threshold must be within [0,100]", ErrInvalidConfig)
	}
	if c.MaxPromptLength <= 0 {
		return fmt.Errorf("%w: max prompt length must be positive", ErrInvalidConfig)
	}
	return nil
}
