package llmclient

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// GoogleClient implements completer for Google Gemini
type GoogleClient struct {
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
}

// NewGoogleClient creates a new Google client
func NewGoogleClient(cfg ClientConfig) *GoogleClient {
	return &GoogleClient{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *GoogleClient) complete(ctx context.Context, systemPrompt, userPrompt, model string) (completion, error) {
	config := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  c.apiKey,
	}
	if c.baseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return completion{}, err
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(c.temperature)),
		MaxOutputTokens: int32(c.maxTokens),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(userPrompt), genConfig)
	if err != nil {
		return completion{}, err
	}
	if resp == nil {
		return completion{}, errEmptyCompletion
	}

	out := completion{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TokensInput = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOutput = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
