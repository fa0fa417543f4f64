package llmclient

import (
	"context"
	"errors"
	"strings"
	"time"
)

var errEmptyCompletion = errors.New("no text content in response")

// completion is what a vendor client extracts from a successful API call.
type completion struct {
	Content      string
	TokensInput  int
	TokensOutput int
}

// completer is implemented by each vendor client.
type completer interface {
	complete(ctx context.Context, systemPrompt, userPrompt, model string) (completion, error)
}

// clientGateway adapts a completer to the Gateway contract: it applies the
// per-call timeout, measures latency, prices the call and folds errors into
// the response status.
type clientGateway struct {
	provider Provider
	model    string
	timeout  time.Duration
	client   completer
}

func newClientGateway(cfg ClientConfig, client completer) *clientGateway {
	return &clientGateway{
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		client:   client,
	}
}

// Invoke performs one bounded call. It never returns an error.
func (g *clientGateway) Invoke(ctx context.Context, systemPrompt, userPrompt, model string) Response {
	if model == "" {
		model = g.model
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.complete(callCtx, systemPrompt, userPrompt, model)
	if err == nil && strings.TrimSpace(out.Content) == "" {
		err = errEmptyCompletion
	}

	resp := Response{
		Provider:  g.provider,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Status = StatusError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			resp.Status = StatusTimeout
		}
		resp.Error = err.Error()
		return resp
	}

	resp.Content = out.Content
	resp.TokensInput = out.TokensInput
	resp.TokensOutput = out.TokensOutput
	resp.CostUSD = CalcCost(g.provider, out.TokensInput, out.TokensOutput)
	resp.Status = StatusSuccess
	return resp
}
