package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ruster/internal/config"
	"github.com/haasonsaas/ruster/internal/embedcache"
	"github.com/haasonsaas/ruster/internal/embeddings"
	"github.com/haasonsaas/ruster/internal/inferenceloop"
	"github.com/haasonsaas/ruster/internal/llmgateway"
	"github.com/haasonsaas/ruster/internal/metrics"
	"github.com/haasonsaas/ruster/internal/sessions"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/internal/toolexec"
	"github.com/haasonsaas/ruster/internal/transport"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ruster daemon",
		Long: `Start the ruster daemon: bind the UNIX socket, scan the skill
registry, and service session/skill/config commands against the
inference loop.

On SIGINT/SIGTERM the daemon stops serving, closes the socket and removes
its file, then exits. Sends still in flight are not waited for or stopped
at a tool-call boundary; the turns they appended before that point are
already on disk, since each turn is written to history.jsonl as it is
appended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default $RUSTER_CONFIG or "+defaultConfigPath+")")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	slog.Info("starting ruster", "version", version, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded", "socket_path", cfg.SocketPath, "llm_provider", cfg.LLM.Provider, "skills_dirs", cfg.SkillsDirs)

	cache, err := embedcache.Open(cfg.Embedding.CachePath)
	if err != nil {
		return fmt.Errorf("open embedding cache: %w", err)
	}

	embedder := embeddings.NewHTTPProvider(embeddings.Config{
		Provider: cfg.Embedding.Provider,
		BaseURL:  cfg.Embedding.BaseURL,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
	}, cfg.Embedding.Dimension)

	registry := skills.NewRegistry(cfg.SkillsDirs, cache, embedder)
	if err := registry.Rescan(ctx); err != nil {
		return fmt.Errorf("initial skill scan: %w", err)
	}
	if err := registry.StartWatching(ctx); err != nil {
		slog.Warn("skill directory watch failed to start, rescans are now manual-only", "error", err)
	}
	defer registry.Close()

	metricsCollector := metrics.New()

	store, err := sessions.NewStore(cfg.BaseDir, metricsCollector)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	var gateway llmgateway.Gateway
	switch cfg.LLM.Provider {
	case "openai":
		gateway = llmgateway.NewOpenAIGateway(llmgateway.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	default:
		gateway = llmgateway.NewAnthropicGateway(llmgateway.AnthropicConfig{
			APIKey:       cfg.LLM.AnthropicKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	}

	sink := transport.NewSink()
	tools := toolexec.NewManager(toolexec.Config{
		RunDir:      cfg.ToolRunDir,
		Timeout:     time.Duration(cfg.ToolTimeoutSecs) * time.Second,
		OutputLines: cfg.ToolOutputLines,
	}, inferenceloop.ToolResolver{Store: store, Registry: registry}, metricsCollector)

	loop := inferenceloop.NewLoop(store, registry, gateway, tools, sink, inferenceloop.Config{
		DefaultModel:  cfg.DefaultModel,
		RAGModel:      cfg.RAGModel,
		RAGTopN:       cfg.RAGTopN,
		RAGThreshold:  cfg.RAGThreshold,
		MaxToolRounds: cfg.MaxToolRounds,
	}, metricsCollector)

	router := transport.NewRouter(store, registry, loop, sink, cfg)
	server := transport.NewServer(cfg.SocketPath, os.FileMode(cfg.SocketMode), router, sink)
	if err := server.Listen(); err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	defer server.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metricsCollector.Serve(ctx, cfg.Metrics.Addr); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ctx) }()

	slog.Info("ruster listening", "socket_path", cfg.SocketPath)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	slog.Info("ruster stopped")
	return nil
}
