package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type completerFunc func(ctx context.Context, systemPrompt, userPrompt, model string) (completion, error)

func (f completerFunc) complete(ctx context.Context, systemPrompt, userPrompt, model string) (completion, error) {
	return f(ctx, systemPrompt, userPrompt, model)
}

func testGateway(timeout time.Duration, fn completerFunc) *clientGateway {
	return newClientGateway(ClientConfig{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Timeout:  timeout,
	}, fn)
}

func TestClientGatewaySuccess(t *testing.T) {
	var gotModel string
	gw := testGateway(time.Second, func(_ context.Context, _, _, model string) (completion, error) {
		gotModel = model
		return completion{Content: "Paris", TokensInput: 100, TokensOutput: 50}, nil
	})

	resp := gw.Invoke(context.Background(), "sys", "capital of France?", "")

	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, "Paris", resp.Content)
	assert.Equal(t, 150, resp.Tokens())
	assert.InDelta(t, CalcCost(ProviderOpenAI, 100, 50), resp.CostUSD, 1e-12)
	assert.Empty(t, resp.Error)
}

func TestClientGatewayModelOverride(t *testing.T) {
	gw := testGateway(time.Second, func(_ context.Context, _, _, model string) (completion, error) {
		return completion{Content: model}, nil
	})
	resp := gw.Invoke(context.Background(), "", "q", "gpt-4o")
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, "gpt-4o", resp.Content)
}

func TestClientGatewayError(t *testing.T) {
	gw := testGateway(time.Second, func(context.Context, string, string, string) (completion, error) {
		return completion{}, errors.New("boom")
	})
	resp := gw.Invoke(context.Background(), "", "q", "")
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "boom", resp.Error)
	assert.False(t, resp.HasContent())
	assert.Zero(t, resp.CostUSD)
}

func TestClientGatewayEmptyContentIsError(t *testing.T) {
	gw := testGateway(time.Second, func(context.Context, string, string, string) (completion, error) {
		return completion{Content: "   ", TokensInput: 10}, nil
	})
	resp := gw.Invoke(context.Background(), "", "q", "")
	assert.Equal(t, StatusError, resp.Status)
	assert.Empty(t, resp.Content)
}

func TestClientGatewayTimeout(t *testing.T) {
	gw := testGateway(20*time.Millisecond, func(ctx context.Context, _, _, _ string) (completion, error) {
		<-ctx.Done()
		return completion{}, ctx.Err()
	})
	resp := gw.Invoke(context.Background(), "", "q", "")
	assert.Equal(t, StatusTimeout, resp.Status)
	assert.Empty(t, resp.Content)
}

func TestGatewayFunc(t *testing.T) {
	var gw Gateway = GatewayFunc(func(_ context.Context, sys, user, _ string) Response {
		return Response{Provider: ProviderGemini, Content: sys + user, Status: StatusSuccess}
	})
	assert.Equal(t, "ab", gw.Invoke(context.Background(), "a", "b", "").Content)
}
