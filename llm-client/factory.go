package llmclient

import (
	"fmt"
)

// NewGateway builds the gateway for cfg.Provider. A non-empty RemoteAddr
// routes the provider through a gRPC worker instead of the vendor API.
func NewGateway(cfg ClientConfig) (Gateway, error) {
	if !cfg.Provider.Valid() {
		return nil, fmt.Errorf("unsupported LLM provider: %q. Supported providers: %v", cfg.Provider, AllProviders)
	}
	cfg = cfg.withDefaults()

	if cfg.RemoteAddr != "" {
		return NewRemoteGateway(cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for provider %s", cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderOpenAI, ProviderPerplexity, ProviderOpenRouter, ProviderMistral:
		return newClientGateway(cfg, NewOpenAIClient(cfg)), nil
	case ProviderAnthropic:
		return newClientGateway(cfg, NewAnthropicClient(cfg)), nil
	case ProviderGemini:
		return newClientGateway(cfg, NewGoogleClient(cfg)), nil
	case ProviderCohere:
		return newClientGateway(cfg, NewCohereClient(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewGateways builds one gateway per config, keyed by provider.
func NewGateways(cfgs []ClientConfig) (map[Provider]Gateway, error) {
	gateways := make(map[Provider]Gateway, len(cfgs))
	for _, cfg := range cfgs {
		if _, dup := gateways[cfg.Provider]; dup {
			return nil, fmt.Errorf("provider %s configured twice", cfg.Provider)
		}
		gw, err := NewGateway(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gateway: %w", cfg.Provider, err)
		}
		gateways[cfg.Provider] = gw
	}
	return gateways, nil
}
