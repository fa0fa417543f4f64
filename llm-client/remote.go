package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	gatewayServiceName = "consensus.Gateway"
	invokeMethod       = "/" + gatewayServiceName + "/Invoke"
)

// RemoteGateway forwards Invoke calls to a gateway worker over gRPC.
type RemoteGateway struct {
	provider Provider
	model    string
	timeout  time.Duration
	conn     *grpc.ClientConn
}

// NewRemoteGateway connects to the worker at cfg.RemoteAddr. Extra dial
// options are appended after the default insecure transport credentials.
func NewRemoteGateway(cfg ClientConfig, opts ...grpc.DialOption) (*RemoteGateway, error) {
	cfg = cfg.withDefaults()
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(cfg.RemoteAddr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway worker %s: %w", cfg.RemoteAddr, err)
	}

	return &RemoteGateway{
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		conn:     conn,
	}, nil
}

// Invoke never returns an error; transport failures become StatusError or
// StatusTimeout responses.
func (g *RemoteGateway) Invoke(ctx context.Context, systemPrompt, userPrompt, model string) Response {
	if model == "" {
		model = g.model
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp := Response{Provider: g.provider, Model: model}

	req, err := structpb.NewStruct(map[string]any{
		"system_prompt": systemPrompt,
		"user_prompt":   userPrompt,
		"model":         model,
	})
	if err == nil {
		out := new(structpb.Struct)
		err = g.conn.Invoke(callCtx, invokeMethod, req, out)
		if err == nil {
			resp = responseFromStruct(out)
			// The worker may serve under another name; the slot belongs to us.
			resp.Provider = g.provider
		}
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		resp.Status = StatusError
		if status.Code(err) == codes.DeadlineExceeded || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			resp.Status = StatusTimeout
		}
		resp.Error = err.Error()
	}
	return resp
}

// WaitReady polls the worker's health service until it reports SERVING,
// giving up after attempts tries spaced by backoff.
func (g *RemoteGateway) WaitReady(ctx context.Context, attempts int, backoff time.Duration) error {
	client := healthpb.NewHealthClient(g.conn)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		checkCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Status == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		lastErr = fmt.Errorf("worker status %s", resp.Status)
	}
	return fmt.Errorf("%s worker not ready after %d attempts: %w", g.provider, attempts, lastErr)
}

// Close releases the underlying connection.
func (g *RemoteGateway) Close() error {
	return g.conn.Close()
}

func responseToStruct(r Response) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"provider":      string(r.Provider),
		"model":         r.Model,
		"content":       r.Content,
		"tokens_input":  r.TokensInput,
		"tokens_output": r.TokensOutput,
		"cost_usd":      r.CostUSD,
		"latency_ms":    r.LatencyMs,
		"status":        string(r.Status),
		"error":         r.Error,
	})
}

func responseFromStruct(s *structpb.Struct) Response {
	f := s.GetFields()
	return Response{
		Provider:     Provider(f["provider"].GetStringValue()),
		Model:        f["model"].GetStringValue(),
		Content:      f["content"].GetStringValue(),
		TokensInput:  int(f["tokens_input"].GetNumberValue()),
		TokensOutput: int(f["tokens_output"].GetNumberValue()),
		CostUSD:      f["cost_usd"].GetNumberValue(),
		LatencyMs:    int64(f["latency_ms"].GetNumberValue()),
		Status:       Status(f["status"].GetStringValue()),
		Error:        f["error"].GetStringValue(),
	}
}
