package llmclient

import (
	"context"
	"fmt"
	"strings"
)

// Gateway turns a (system prompt, user prompt, model override) triple into a
// Response. Implementations never return an error: a failed call is reported
// through an empty Content and a non-success Status.
type Gateway interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt, model string) Response
}

// GatewayFunc allows plain functions to act as a Gateway.
type GatewayFunc func(ctx context.Context, systemPrompt, userPrompt, model string) Response

func (f GatewayFunc) Invoke(ctx context.Context, systemPrompt, userPrompt, model string) Response {
	return f(ctx, systemPrompt, userPrompt, model)
}

// Provider represents the LLM provider type
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
	ProviderPerplexity Provider = "perplexity"
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
	ProviderCohere     Provider = "cohere"
	ProviderMistral    Provider = "mistral"
)

// AllProviders lists every provider identifier the system knows about, in a
// stable order.
var AllProviders = []Provider{
	ProviderOpenAI,
	ProviderGemini,
	ProviderPerplexity,
	ProviderOpenRouter,
	ProviderAnthropic,
	ProviderCohere,
	ProviderMistral,
}

// ParseProvider maps a case-insensitive name onto a known Provider.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("unsupported LLM provider: %q", name)
}

// Valid reports whether p is one of AllProviders.
func (p Provider) Valid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// Status describes how a Response came to be.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusTimeout  Status = "timeout"
	StatusFallback Status = "fallback"
)

// Response is one provider's answer to one prompt.
type Response struct {
	Provider     Provider `json:"provider"`
	Model        string   `json:"model"`
	Content      string   `json:"content"`
	TokensInput  int      `json:"tokens_input"`
	TokensOutput int      `json:"tokens_output"`
	CostUSD      float64  `json:"cost_usd"`
	LatencyMs    int64    `json:"latency_ms"`
	Status       Status   `json:"status"`
	Error        string   `json:"error,omitempty"`
}

// HasContent reports whether the response carries usable text.
func (r Response) HasContent() bool {
	return strings.TrimSpace(r.Content) != ""
}

// Tokens returns input plus output tokens.
func (r Response) Tokens() int {
	return r.TokensInput + r.TokensOutput
}
