package llmclient

import (
	"context"
	"strings"

	coheregov2 "github.com/cohere-ai/cohere-go/v2"
	"github.com/cohere-ai/cohere-go/v2/client"
	cohereoption "github.com/cohere-ai/cohere-go/v2/option"
)

// CohereClient implements completer for Cohere
type CohereClient struct {
	client      *client.Client
	maxTokens   int
	temperature float64
}

// NewCohereClient creates a new Cohere client
func NewCohereClient(cfg ClientConfig) *CohereClient {
	opts := []cohereoption.RequestOption{
		cohereoption.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, cohereoption.WithBaseURL(cfg.BaseURL))
	}

	return &CohereClient{
		client:      client.NewClient(opts...),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *CohereClient) complete(ctx context.Context, systemPrompt, userPrompt, model string) (completion, error) {
	req := &coheregov2.ChatRequest{
		Message:     userPrompt,
		Model:       coheregov2.String(model),
		MaxTokens:   coheregov2.Int(c.maxTokens),
		Temperature: coheregov2.Float64(c.temperature),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.Preamble = coheregov2.String(systemPrompt)
	}

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		return completion{}, err
	}

	out := completion{Content: resp.Text}
	if resp.Meta != nil && resp.Meta.BilledUnits != nil {
		if in := resp.Meta.BilledUnits.InputTokens; in != nil {
			out.TokensInput = int(*in)
		}
		if o := resp.Meta.BilledUnits.OutputTokens; o != nil {
			out.TokensOutput = int(*o)
		}
	}
	return out, nil
}
