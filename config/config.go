// Package config loads service configuration from a YAML file, an optional
// .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"consensus-core/core"
	llmclient "consensus-core/llm-client"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Pipeline  core.Config                                   `yaml:"pipeline"`
	Providers map[llmclient.Provider]llmclient.ClientConfig `yaml:"providers"`
	Server    ServerConfig                                  `yaml:"server"`
	Log       LogConfig                                     `yaml:"log"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	DBPath      string   `yaml:"db_path"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Pipeline runs allowed per user per UTC day.
	FreeDailyLimit int `yaml:"free_daily_limit"`
	ProDailyLimit  int `yaml:"pro_daily_limit"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is empty unless set; each command then picks its own default.
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Credentials are vendor API keys bound from command line flags.
type Credentials struct {
	OpenAIKey     string `cli:"openai-key"`
	GeminiKey     string `cli:"gemini-key"`
	PerplexityKey string `cli:"perplexity-key"`
	OpenRouterKey string `cli:"openrouter-key"`
	AnthropicKey  string `cli:"anthropic-key"`
	CohereKey     string `cli:"cohere-key"`
	MistralKey    string `cli:"mistral-key"`
}

// Environment variables holding each vendor's API key.
var apiKeyEnv = map[llmclient.Provider]string{
	llmclient.ProviderOpenAI:     "OPENAI_API_KEY",
	llmclient.ProviderGemini:     "GEMINI_API_KEY",
	llmclient.ProviderPerplexity: "PERPLEXITY_API_KEY",
	llmclient.ProviderOpenRouter: "OPENROUTER_API_KEY",
	llmclient.ProviderAnthropic:  "ANTHROPIC_API_KEY",
	llmclient.ProviderCohere:     "COHERE_API_KEY",
	llmclient.ProviderMistral:    "MISTRAL_API_KEY",
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Pipeline:  core.DefaultConfig(),
		Providers: map[llmclient.Provider]llmclient.ClientConfig{},
		Server: ServerConfig{
			Addr:           ":8080",
			DBPath:         "./consensus.db",
			CORSOrigins:    []string{"*"},
			FreeDailyLimit: 20,
			ProDailyLimit:  200,
		},
	}
}

// Load reads path (a missing file yields the defaults), then .env, then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = map[llmclient.Provider]llmclient.ClientConfig{}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	for p, env := range apiKeyEnv {
		if key := os.Getenv(env); key != "" {
			c.setAPIKey(p, key)
		}
	}

	if v := os.Getenv("CONSENSUS_PROVIDERS"); v != "" {
		var providers []llmclient.Provider
		for _, name := range strings.Split(v, ",") {
			p, err := llmclient.ParseProvider(name)
			if err != nil {
				return fmt.Errorf("CONSENSUS_PROVIDERS: %w", err)
			}
			providers = append(providers, p)
		}
		c.Pipeline.Providers = providers
	}
	if v := os.Getenv("CONSENSUS_JUDGE_PROVIDER"); v != "" {
		p, err := llmclient.ParseProvider(v)
		if err != nil {
			return fmt.Errorf("CONSENSUS_JUDGE_PROVIDER: %w", err)
		}
		c.Pipeline.JudgeProvider = p
	}
	if v, ok := os.LookupEnv("CONSENSUS_FALLBACK_PROVIDER"); ok {
		if v == "" {
			c.Pipeline.FallbackProvider = ""
		} else {
			p, err := llmclient.ParseProvider(v)
			if err != nil {
				return fmt.Errorf("CONSENSUS_FALLBACK_PROVIDER: %w", err)
			}
			c.Pipeline.FallbackProvider = p
		}
	}
	if v := os.Getenv("CONSENSUS_REFINEMENT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONSENSUS_REFINEMENT_THRESHOLD: %w", err)
		}
		c.Pipeline.RefinementThreshold = n
	}

	if v := os.Getenv("CONSENSUS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CONSENSUS_DB"); v != "" {
		c.Server.DBPath = v
	}
	if v := os.Getenv("CONSENSUS_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CONSENSUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CONSENSUS_LOG_DEV"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONSENSUS_LOG_DEV: %w", err)
		}
		c.Log.Development = dev
	}
	return nil
}

func (c *Config) setAPIKey(p llmclient.Provider, key string) {
	cc := c.Providers[p]
	cc.APIKey = key
	c.Providers[p] = cc
}

// ApplyCredentials overrides API keys with the non-empty credentials.
func (c *Config) ApplyCredentials(cred Credentials) {
	keys := map[llmclient.Provider]string{
		llmclient.ProviderOpenAI:     cred.OpenAIKey,
		llmclient.ProviderGemini:     cred.GeminiKey,
		llmclient.ProviderPerplexity: cred.PerplexityKey,
		llmclient.ProviderOpenRouter: cred.OpenRouterKey,
		llmclient.ProviderAnthropic:  cred.AnthropicKey,
		llmclient.ProviderCohere:     cred.CohereKey,
		llmclient.ProviderMistral:    cred.MistralKey,
	}
	for p, key := range keys {
		if key != "" {
			c.setAPIKey(p, key)
		}
	}
}

// RequiredProviders lists every provider the pipeline calls: the
// responders, then the judge and the fallback when not already listed.
func (c *Config) RequiredProviders() []llmclient.Provider {
	out := append([]llmclient.Provider(nil), c.Pipeline.Providers...)
	for _, p := range []llmclient.Provider{c.Pipeline.JudgeProvider, c.Pipeline.FallbackProvider} {
		if p == "" {
			continue
		}
		listed := false
		for _, q := range out {
			if q == p {
				listed = true
				break
			}
		}
		if !listed {
			out = append(out, p)
		}
	}
	return out
}

// ClientConfigs returns one gateway configuration per required provider.
func (c *Config) ClientConfigs() []llmclient.ClientConfig {
	providers := c.RequiredProviders()
	out := make([]llmclient.ClientConfig, 0, len(providers))
	for _, p := range providers {
		cc := c.Providers[p]
		cc.Provider = p
		out = append(out, cc)
	}
	return out
}

// Validate checks the pipeline and the server settings.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Server.FreeDailyLimit < 0 || c.Server.ProDailyLimit < 0 {
		return errors.New("daily limits must be >= 0")
	}
	for p := range c.Providers {
		if !p.Valid() {
			return fmt.Errorf("unknown provider %q in providers section", p)
		}
	}
	return nil
}
