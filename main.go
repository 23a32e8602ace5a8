package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/graphweave/researcher/internal/activities"
	"github.com/graphweave/researcher/internal/checkpoint"
	"github.com/graphweave/researcher/internal/config"
	"github.com/graphweave/researcher/internal/graph"
	"github.com/graphweave/researcher/internal/llm"
	_ "github.com/graphweave/researcher/internal/metrics" // registers collectors
	"github.com/graphweave/researcher/internal/progress"
	"github.com/graphweave/researcher/internal/ratecontrol"
	"github.com/graphweave/researcher/internal/sandbox"
	temporallog "github.com/graphweave/researcher/internal/temporal"
	"github.com/graphweave/researcher/internal/tracing"
	"github.com/graphweave/researcher/internal/usage"
	"github.com/graphweave/researcher/internal/webpage"
	"github.com/graphweave/researcher/internal/websearch"
	"github.com/graphweave/researcher/internal/workflows"
)

func main() {
	configPath := flag.String("config", "", "path to researcher.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Metrics endpoint.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Service.MetricsPort)
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// Progress store.
	store, err := progress.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init progress store: %w", err)
	}

	// Usage ledger.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	ledger := usage.NewLedger(rdb, logger)

	// LLM provider, paced and metered.
	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}
	stopWatch := ratecontrol.Watch(logger)
	defer stopWatch()
	instrumented := llm.NewInstrumented(provider, ratecontrol.LimiterFor(cfg.LLM.Provider), ledger, logger)

	// Temporal client and checkpoint bridge.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewAdapter(logger),
	})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer temporalClient.Close()

	searchClient := websearch.NewClient(cfg.Search.APIKey)
	if cfg.Search.BaseURL != "" {
		searchClient.BaseURL = cfg.Search.BaseURL
	}

	activities.SetDeps(activities.Deps{
		Provider:    instrumented,
		Search:      searchClient,
		Pages:       webpage.NewFetcher(),
		Graph:       graph.NewClient(cfg.Graph.BaseURL, cfg.Graph.APIKey),
		Sandbox:     sandbox.NewClient(cfg.Sandbox.BaseURL, cfg.Sandbox.APIKey, logger),
		Progress:    store,
		Checkpoints: checkpoint.NewBridge(temporalClient, logger),
		Research: activities.ResearchDefaults{
			MaxIterations:  cfg.Research.MaxIterations,
			HumanInLoop:    cfg.Research.HumanInLoop,
			InternetAccess: cfg.Research.InternetAccess,
		},
		Logger: logger,
	})

	taskQueue := cfg.Temporal.TaskQueue
	if taskQueue == "" {
		taskQueue = workflows.TaskQueue
	}
	w := worker.New(temporalClient, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchEntitiesWorkflow)
	w.RegisterActivity(activities.RunCoordinatingAgent)

	logger.Info("research worker starting",
		zap.String("task_queue", taskQueue),
		zap.String("temporal", cfg.Temporal.HostPort),
		zap.String("llm_provider", cfg.LLM.Provider))

	return w.Run(worker.InterruptCh())
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
