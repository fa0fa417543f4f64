package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"consensus-core/core"
	llmclient "consensus-core/llm-client"
)

// Provider availability as seen from recent calls.
const (
	StatusIdle      = "idle"
	StatusAvailable = "available"
	StatusFailing   = "failing"
)

// ProviderState is the call history of one provider.
type ProviderState struct {
	Provider     llmclient.Provider `json:"provider"`
	Status       string             `json:"status"`
	Calls        int                `json:"calls"`
	Failures     int                `json:"failures"`
	Fallbacks    int                `json:"fallbacks"`
	LastStatus   llmclient.Status   `json:"last_status,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	LastCallAt   time.Time          `json:"last_call_at,omitempty"`
	AvgLatencyMs float64            `json:"avg_latency_ms"`

	totalLatencyMs int64
}

// ProviderPool tracks every gateway call made through the gateways it wraps.
type ProviderPool struct {
	mu        sync.RWMutex
	providers map[llmclient.Provider]*ProviderState
}

// NewProviderPool creates an empty pool.
func NewProviderPool() *ProviderPool {
	return &ProviderPool{
		providers: make(map[llmclient.Provider]*ProviderState),
	}
}

// Wrap returns a gateway that records each call to gw under provider p.
func (pp *ProviderPool) Wrap(p llmclient.Provider, gw llmclient.Gateway) llmclient.Gateway {
	pp.register(p)
	return llmclient.GatewayFunc(func(ctx context.Context, systemPrompt, userPrompt, model string) llmclient.Response {
		resp := gw.Invoke(ctx, systemPrompt, userPrompt, model)
		pp.record(p, resp)
		return resp
	})
}

// WrapAll wraps every gateway in the map.
func (pp *ProviderPool) WrapAll(gateways map[llmclient.Provider]llmclient.Gateway) map[llmclient.Provider]llmclient.Gateway {
	out := make(map[llmclient.Provider]llmclient.Gateway, len(gateways))
	for p, gw := range gateways {
		out[p] = pp.Wrap(p, gw)
	}
	return out
}

func (pp *ProviderPool) register(p llmclient.Provider) *ProviderState {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.stateLocked(p)
}

func (pp *ProviderPool) stateLocked(p llmclient.Provider) *ProviderState {
	st, ok := pp.providers[p]
	if !ok {
		st = &ProviderState{Provider: p, Status: StatusIdle}
		pp.providers[p] = st
	}
	return st
}

func (pp *ProviderPool) record(p llmclient.Provider, resp llmclient.Response) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	st := pp.stateLocked(p)
	st.Calls++
	st.totalLatencyMs += resp.LatencyMs
	st.AvgLatencyMs = float64(st.totalLatencyMs) / float64(st.Calls)
	st.LastStatus = resp.Status
	st.LastError = resp.Error
	st.LastCallAt = time.Now()
	if resp.HasContent() {
		st.Status = StatusAvailable
	} else {
		st.Failures++
		st.Status = StatusFailing
	}
}

// ObserveRun counts the initial slots a run filled through the fallback
// provider, attributed to the provider that needed it.
func (pp *ProviderPool) ObserveRun(result *core.PipelineResult) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	for _, r := range result.InitialResponses {
		if r.Status == llmclient.StatusFallback {
			pp.stateLocked(r.Provider).Fallbacks++
		}
	}
}

// Snapshot returns a copy of every provider's state, in the order of
// llmclient.AllProviders.
func (pp *ProviderPool) Snapshot() []ProviderState {
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	rank := make(map[llmclient.Provider]int, len(llmclient.AllProviders))
	for i, p := range llmclient.AllProviders {
		rank[p] = i
	}

	out := make([]ProviderState, 0, len(pp.providers))
	for _, st := range pp.providers {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return rank[out[i].Provider] < rank[out[j].Provider]
	})
	return out
}
