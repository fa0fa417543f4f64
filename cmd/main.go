package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"consensus-core/config"
	"consensus-core/core"
	llmclient "consensus-core/llm-client"
	"consensus-core/logging"
	"consensus-core/server"
	"consensus-core/store"
	"github.com/google/uuid"
	"github.com/modfin/clix"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "consensus",
		Usage: "ask several LLMs, let them critique each other and adjudicate one answer",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "consensus.yaml",
				Usage:   "path to the YAML configuration file",
				Sources: cli.EnvVars("CONSENSUS_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "human readable debug logging",
			},
		}, credentialFlags()...),

		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "run one consensus query and print the verdict",
				ArgsUsage: "<prompt>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "print the full pipeline result as JSON",
					},
				},
				Action: ask,
			},
			{
				Name:  "serve",
				Usage: "start the HTTP service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "listen address, overrides the config file",
					},
				},
				Action: serve,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func credentialFlags() []cli.Flag {
	names := []string{"openai", "gemini", "perplexity", "openrouter", "anthropic", "cohere", "mistral"}
	flags := make([]cli.Flag, 0, len(names))
	for _, name := range names {
		flags = append(flags, &cli.StringFlag{
			Name:    name + "-key",
			Usage:   name + " API key",
			Sources: cli.EnvVars("CONSENSUS_" + strings.ToUpper(name) + "_KEY"),
		})
	}
	return flags
}

// setup loads the configuration, applies command line overrides and builds
// the logger.
func setup(cmd *cli.Command, defaultLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyCredentials(clix.ParseCommand[config.Credentials](cmd))

	verbose := cmd.Bool("verbose")
	cfg.Log.Level = logLevel(cfg.Log.Level, defaultLevel, cmd.String("log-level"), verbose)
	if verbose {
		cfg.Log.Development = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// logLevel resolves the effective level. Precedence, highest first:
// --verbose, --log-level, the configured level, the command's fallback.
func logLevel(configured, fallback, flag string, verbose bool) string {
	switch {
	case verbose:
		return "debug"
	case flag != "":
		return flag
	case configured != "":
		return configured
	}
	return fallback
}

func closeGateways(gateways map[llmclient.Provider]llmclient.Gateway) {
	for _, gw := range gateways {
		if c, ok := gw.(io.Closer); ok {
			c.Close()
		}
	}
}

// waitForWorkers checks that every worker-backed provider is serving. A
// worker that never comes up only costs its slot, so this warns.
func waitForWorkers(ctx context.Context, gateways map[llmclient.Provider]llmclient.Gateway, logger *zap.Logger) {
	for p, gw := range gateways {
		remote, ok := gw.(*llmclient.RemoteGateway)
		if !ok {
			continue
		}
		if err := remote.WaitReady(ctx, 5, time.Second); err != nil {
			logger.Warn("gateway worker unavailable", zap.String("provider", string(p)), zap.Error(err))
		}
	}
}

func ask(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return errors.New("a prompt is required")
	}

	cfg, logger, err := setup(cmd, "warn")
	if err != nil {
		return err
	}
	defer logger.Sync()

	gateways, err := llmclient.NewGateways(cfg.ClientConfigs())
	if err != nil {
		return err
	}
	defer closeGateways(gateways)

	orch, err := core.NewOrchestrator(cfg.Pipeline, gateways, logger)
	if err != nil {
		return err
	}

	result, err := orch.Run(ctx, prompt, uuid.NewString())
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Print(renderResult(result))
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd, "info")
	if err != nil {
		return err
	}
	defer logger.Sync()

	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	st, err := store.Open(ctx, cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	gateways, err := llmclient.NewGateways(cfg.ClientConfigs())
	if err != nil {
		return err
	}
	defer closeGateways(gateways)
	waitForWorkers(ctx, gateways, logger)

	pool := server.NewProviderPool()
	orch, err := core.NewOrchestrator(cfg.Pipeline, pool.WrapAll(gateways), logger)
	if err != nil {
		return err
	}

	logger.Info("pipeline ready",
		zap.Any("providers", cfg.Pipeline.Providers),
		zap.String("judge", string(cfg.Pipeline.JudgeProvider)),
		zap.String("fallback", string(cfg.Pipeline.FallbackProvider)),
		zap.String("db", cfg.Server.DBPath))

	api := server.NewAPIServer(orch, st, pool, server.Options{
		FreeDailyLimit: cfg.Server.FreeDailyLimit,
		ProDailyLimit:  cfg.Server.ProDailyLimit,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}, logger)
	return api.Start(ctx, cfg.Server.Addr)
}
