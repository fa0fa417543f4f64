package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"consensus-core/config"
	llmclient "consensus-core/llm-client"
	"consensus-core/logging"
	"github.com/modfin/clix"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "worker",
		Usage: "serve one provider's gateway over gRPC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "provider",
				Usage:    "provider to serve",
				Required: true,
				Sources:  cli.EnvVars("WORKER_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "port",
				Value:   "50051",
				Sources: cli.EnvVars("WORKER_PORT"),
			},
			&cli.StringFlag{
				Name:    "config",
				Value:   "consensus.yaml",
				Sources: cli.EnvVars("CONSENSUS_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("CONSENSUS_LOG_LEVEL"),
			},
			&cli.StringFlag{Name: "openai-key", Sources: cli.EnvVars("CONSENSUS_OPENAI_KEY")},
			&cli.StringFlag{Name: "gemini-key", Sources: cli.EnvVars("CONSENSUS_GEMINI_KEY")},
			&cli.StringFlag{Name: "perplexity-key", Sources: cli.EnvVars("CONSENSUS_PERPLEXITY_KEY")},
			&cli.StringFlag{Name: "openrouter-key", Sources: cli.EnvVars("CONSENSUS_OPENROUTER_KEY")},
			&cli.StringFlag{Name: "anthropic-key", Sources: cli.EnvVars("CONSENSUS_ANTHROPIC_KEY")},
			&cli.StringFlag{Name: "cohere-key", Sources: cli.EnvVars("CONSENSUS_COHERE_KEY")},
			&cli.StringFlag{Name: "mistral-key", Sources: cli.EnvVars("CONSENSUS_MISTRAL_KEY")},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	provider, err := llmclient.ParseProvider(cmd.String("provider"))
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg.ApplyCredentials(clix.ParseCommand[config.Credentials](cmd))

	logger, err := logging.New(cmd.String("log-level"), false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("provider", string(provider)))

	// A worker always calls the vendor itself.
	clientCfg := cfg.Providers[provider]
	clientCfg.Provider = provider
	clientCfg.RemoteAddr = ""
	gateway, err := llmclient.NewGateway(clientCfg)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", ":"+cmd.String("port"))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := grpc.NewServer()
	llmclient.NewWorkerServer(gateway, logger).Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	go func() {
		<-ctx.Done()
		logger.Info("stopping worker")
		healthServer.Shutdown()
		server.GracefulStop()
	}()

	logger.Info("starting worker server", zap.String("addr", lis.Addr().String()))
	if err := server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}
