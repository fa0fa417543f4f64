package server

import (
	"context"
	"testing"

	"consensus-core/core"
	llmclient "consensus-core/llm-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderPoolRecordsCalls(t *testing.T) {
	pool := NewProviderPool()

	responses := []llmclient.Response{
		{Content: "ok", Status: llmclient.StatusSuccess, LatencyMs: 100},
		{Status: llmclient.StatusTimeout, Error: "deadline exceeded", LatencyMs: 300},
	}
	calls := 0
	gw := pool.Wrap(llmclient.ProviderOpenAI, llmclient.GatewayFunc(func(context.Context, string, string, string) llmclient.Response {
		r := responses[calls]
		calls++
		return r
	}))
	pool.Wrap(llmclient.ProviderGemini, llmclient.GatewayFunc(func(context.Context, string, string, string) llmclient.Response {
		return llmclient.Response{}
	}))

	gw.Invoke(context.Background(), "", "q", "")
	snap := pool.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, llmclient.ProviderOpenAI, snap[0].Provider)
	assert.Equal(t, StatusAvailable, snap[0].Status)
	assert.Equal(t, StatusIdle, snap[1].Status)

	gw.Invoke(context.Background(), "", "q", "")
	snap = pool.Snapshot()
	assert.Equal(t, 2, snap[0].Calls)
	assert.Equal(t, 1, snap[0].Failures)
	assert.Equal(t, StatusFailing, snap[0].Status)
	assert.Equal(t, llmclient.StatusTimeout, snap[0].LastStatus)
	assert.Equal(t, "deadline exceeded", snap[0].LastError)
	assert.InDelta(t, 200, snap[0].AvgLatencyMs, 1e-9)
}

func TestProviderPoolObserveRun(t *testing.T) {
	pool := NewProviderPool()
	pool.ObserveRun(&core.PipelineResult{InitialResponses: []llmclient.Response{
		{Provider: llmclient.ProviderPerplexity, Status: llmclient.StatusFallback, Content: "x"},
		{Provider: llmclient.ProviderOpenAI, Status: llmclient.StatusSuccess, Content: "y"},
	}})

	snap := pool.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, llmclient.ProviderPerplexity, snap[0].Provider)
	assert.Equal(t, 1, snap[0].Fallbacks)
	assert.Zero(t, snap[0].Calls)
}

func TestWrapAllKeepsKeys(t *testing.T) {
	pool := NewProviderPool()
	noop := llmclient.GatewayFunc(func(context.Context, string, string, string) llmclient.Response { return llmclient.Response{} })

	wrapped := pool.WrapAll(map[llmclient.Provider]llmclient.Gateway{
		llmclient.ProviderOpenAI: noop,
		llmclient.ProviderCohere: noop,
	})
	assert.Len(t, wrapped, 2)
	assert.Len(t, pool.Snapshot(), 2)
}
