package llmclient

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type gatewayService interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: gatewayServiceName,
	HandlerType: (*gatewayService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "consensus/gateway.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gatewayService).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: invokeMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(gatewayService).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// WorkerServer exposes a local Gateway over gRPC.
type WorkerServer struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewWorkerServer creates a new worker server instance
func NewWorkerServer(gateway Gateway, logger *zap.Logger) *WorkerServer {
	return &WorkerServer{gateway: gateway, logger: logger.Named("worker")}
}

// Register attaches the gateway service to s.
func (w *WorkerServer) Register(s *grpc.Server) {
	s.RegisterService(&gatewayServiceDesc, w)
}

// Invoke handles one forwarded gateway call.
func (w *WorkerServer) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	userPrompt := f["user_prompt"].GetStringValue()
	if userPrompt == "" {
		return nil, status.Error(codes.InvalidArgument, "user_prompt is required")
	}

	resp := w.gateway.Invoke(ctx, f["system_prompt"].GetStringValue(), userPrompt, f["model"].GetStringValue())
	w.logger.Info("invoke",
		zap.String("provider", string(resp.Provider)),
		zap.String("model", resp.Model),
		zap.String("status", string(resp.Status)),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	out, err := responseToStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}
