package llmclient

import "time"

// Price is the USD cost of a single token.
type Price struct {
	Input  float64
	Output float64
}

// Per-token prices used for cost accounting.
var providerPrices = map[Provider]Price{
	ProviderOpenAI:     {Input: 0.000150, Output: 0.000600}, // gpt-4o-mini
	ProviderGemini:     {Input: 0.000075, Output: 0.000300}, // gemini flash
	ProviderPerplexity: {Input: 0.000200, Output: 0.000200}, // sonar
	ProviderOpenRouter: {Input: 0.000025, Output: 0.000125}, // claude-3-haiku
	ProviderAnthropic:  {Input: 0.000250, Output: 0.001250}, // claude haiku
	ProviderCohere:     {Input: 0.000150, Output: 0.000600}, // command
	ProviderMistral:    {Input: 0.000200, Output: 0.000600}, // mistral-small
}

// CalcCost prices a call from measured token counts. Unknown providers cost 0.
func CalcCost(provider Provider, inputTokens, outputTokens int) float64 {
	price, ok := providerPrices[provider]
	if !ok {
		return 0
	}
	return float64(inputTokens)*price.Input + float64(outputTokens)*price.Output
}

// Default model for each provider, used when neither the config nor the
// caller names one.
var defaultModels = map[Provider]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderGemini:     "gemini-2.5-flash",
	ProviderPerplexity: "sonar",
	ProviderOpenRouter: "anthropic/claude-3-haiku",
	ProviderAnthropic:  "claude-haiku-4-5",
	ProviderCohere:     "command-a-03-2025",
	ProviderMistral:    "mistral-small-latest",
}

// Base URLs for vendors reached through the OpenAI-compatible client.
var compatibleBaseURLs = map[Provider]string{
	ProviderPerplexity: "https://api.perplexity.ai",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderMistral:    "https://api.mistral.ai/v1",
}

// DefaultModel returns the default model for a provider, or "" if unknown.
func DefaultModel(provider Provider) string {
	return defaultModels[provider]
}

// ClientConfig carries everything needed to build one vendor gateway.
type ClientConfig struct {
	Provider    Provider      `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`

	// RemoteAddr routes the provider through a gRPC gateway worker instead of
	// calling the vendor directly.
	RemoteAddr string `yaml:"remote_addr"`

	// OpenRouter attribution headers.
	SiteURL  string `yaml:"site_url"`
	SiteName string `yaml:"site_name"`
}

// DefaultClientConfig returns the defaults for a provider: 15s timeout,
// 1500 max tokens, temperature 0.3.
func DefaultClientConfig(provider Provider) ClientConfig {
	return ClientConfig{
		Provider:    provider,
		Model:       defaultModels[provider],
		BaseURL:     compatibleBaseURLs[provider],
		Timeout:     15 * time.Second,
		MaxTokens:   1500,
		Temperature: 0.3,
		SiteName:    "Multi-AI Consensus System",
	}
}

// withDefaults fills zero fields of cfg from DefaultClientConfig.
func (cfg ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig(cfg.Provider)
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.SiteName == "" {
		cfg.SiteName = def.SiteName
	}
	return cfg
}
