package llmclient

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient talks to OpenAI and to every vendor exposing an
// OpenAI-compatible chat completions endpoint (Perplexity, OpenRouter,
// Mistral).
type OpenAIClient struct {
	client      openai.Client
	maxTokens   int
	temperature float64
}

// NewOpenAIClient creates a chat completions client for cfg.Provider.
func NewOpenAIClient(cfg ClientConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by the orchestrator.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Provider == ProviderOpenRouter {
		if cfg.SiteURL != "" {
			opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
		}
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *OpenAIClient) complete(ctx context.Context, systemPrompt, userPrompt, model string) (completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return completion{}, err
	}
	if len(resp.Choices) == 0 {
		return completion{}, errEmptyCompletion
	}

	return completion{
		Content:      resp.Choices[0].Message.Content,
		TokensInput:  int(resp.Usage.PromptTokens),
		TokensOutput: int(resp.Usage.CompletionTokens),
	}, nil
}
