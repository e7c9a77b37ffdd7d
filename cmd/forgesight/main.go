// ForgeSight server — ingests engineering events into the three stores,
// materialises analytics, and serves the agent API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/forgesight/forgesight/pkg/actions"
	"github.com/forgesight/forgesight/pkg/agent"
	"github.com/forgesight/forgesight/pkg/analytics"
	"github.com/forgesight/forgesight/pkg/api"
	"github.com/forgesight/forgesight/pkg/config"
	"github.com/forgesight/forgesight/pkg/embedding"
	"github.com/forgesight/forgesight/pkg/ingest"
	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/memory"
	"github.com/forgesight/forgesight/pkg/pipelines"
	"github.com/forgesight/forgesight/pkg/storage/graph"
	"github.com/forgesight/forgesight/pkg/storage/relational"
	"github.com/forgesight/forgesight/pkg/storage/timeseries"
	"github.com/forgesight/forgesight/pkg/tools"
	"github.com/forgesight/forgesight/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// profileModel returns the model configured for a task-type profile,
// falling back to the general profile when the task type is absent.
func profileModel(cfg *config.LLMConfig, taskType string) string {
	if p, ok := cfg.Profiles[taskType]; ok {
		return p.Model
	}
	return cfg.Profiles["general"].Model
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting ForgeSight",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Stores
	opTimeout := cfg.Stores.OperationTimeout

	store, err := relational.NewClient(ctx, cfg.Stores.Relational, opTimeout)
	if err != nil {
		slog.Error("Failed to connect to relational store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing relational store", "error", err)
		}
	}()
	slog.Info("Connected to relational store")

	events, err := timeseries.NewClient(ctx, cfg.Stores.TimeSeries, opTimeout)
	if err != nil {
		slog.Error("Failed to connect to time-series store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := events.Close(); err != nil {
			slog.Error("Error closing time-series store", "error", err)
		}
	}()
	slog.Info("Connected to time-series store")

	graphStore, err := graph.NewClient(ctx, cfg.Stores.Graph, opTimeout)
	if err != nil {
		slog.Error("Failed to connect to graph store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphStore.Close(ctx); err != nil {
			slog.Error("Error closing graph store", "error", err)
		}
	}()
	slog.Info("Connected to graph store")

	// 3. LLM and embedding clients
	embedder := embedding.NewClient(cfg.Embedding, slog.Default())

	registry, err := llm.NewRegistry(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM providers", "error", err)
		os.Exit(1)
	}
	router := llm.NewRouter(cfg.LLM, registry)

	generalClient, err := registry.ForProvider(cfg.LLM.Profiles["general"].Provider)
	if err != nil {
		slog.Error("Failed to resolve general LLM provider", "error", err)
		os.Exit(1)
	}

	// 4. Thread store: Redis when configured, in-process otherwise
	var threads memory.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", addr, "error", err)
			os.Exit(1)
		}
		threads = memory.NewRedisStore(rdb)
		slog.Info("Thread store backed by Redis", "addr", addr)
	} else {
		threads = memory.NewInProcStore()
		slog.Info("Thread store is in-process, threads will not survive restarts")
	}

	// 5. Expert pipelines
	ragPipeline := pipelines.NewRAGPipeline(store, embedder, generalClient, pipelines.RAGConfig{
		FastModel:   profileModel(cfg.LLM, "quick_lookup"),
		StrongModel: profileModel(cfg.LLM, "general"),
	}, slog.Default())
	expertsPipeline := pipelines.NewGraphRAGPipeline(store, graphStore, embedder, generalClient, pipelines.GraphRAGConfig{
		Model: profileModel(cfg.LLM, "analytics"),
	}, slog.Default())
	nlqPipeline := pipelines.NewNLQueryPipeline(events, generalClient,
		profileModel(cfg.LLM, "analytics"), slog.Default())
	prepPipeline := pipelines.NewOneOnOnePipeline(store, events, generalClient,
		profileModel(cfg.LLM, "planning"), slog.Default())
	anomalyPipeline := pipelines.NewAnomalyPipeline(events, slog.Default())

	materialiser := analytics.NewMaterialiser(events, store, graphStore, slog.Default())

	// 6. Tool registry
	toolRegistry := tools.NewRegistry(cfg.Agent.ToolTimeout)
	tools.RegisterRelationalTools(toolRegistry, store)
	tools.RegisterTimeseriesTools(toolRegistry, events)
	tools.RegisterGraphTools(toolRegistry, graphStore, store)
	tools.RegisterVectorTools(toolRegistry, store, embedder)
	tools.RegisterPipelineTools(toolRegistry, tools.PipelineSet{
		RAG:     ragPipeline,
		Experts: expertsPipeline,
		NLQuery: nlqPipeline,
		Prep:    prepPipeline,
		Anomaly: anomalyPipeline,
	})
	tools.RegisterAnalyticsTools(toolRegistry, materialiser)
	if baseURL := os.Getenv("ACTION_EXECUTOR_URL"); baseURL != "" {
		executor := actions.NewExecutor(baseURL, os.Getenv("ACTION_EXECUTOR_TOKEN"), slog.Default())
		tools.RegisterActionTools(toolRegistry, executor)
		slog.Info("Action executor enabled", "base_url", baseURL)
	}
	slog.Info("Tool registry initialized", "tools", len(toolRegistry.Definitions()))

	// 7. Supervisor
	supervisor := agent.NewSupervisor(router, toolRegistry, threads, nlqPipeline, slog.Default())

	// 8. Ingestion pipeline (workers start before the HTTP server)
	deadLetters := ingest.NewDeadLetterSink(cfg.Ingest.DeadLetterPath)
	defer func() {
		if err := deadLetters.Close(); err != nil {
			slog.Error("Error closing dead-letter sink", "error", err)
		}
	}()

	ingestPipeline := ingest.NewPipeline(*cfg.Ingest, events, embedder, store, deadLetters, slog.Default())
	ingestPipeline.Start(ctx)
	slog.Info("Ingestion pipeline started", "workers", cfg.Ingest.WorkerCount)

	var consumer *ingest.Consumer
	if cfg.Broker.Enabled {
		consumer = ingest.NewConsumer(*cfg.Broker, ingestPipeline, slog.Default())
		consumer.Start(ctx)
		slog.Info("Broker consumer started",
			"brokers", cfg.Broker.Brokers, "topics", cfg.Broker.Topics)
	}

	// 9. HTTP server
	server := api.NewServer(api.Options{
		Supervisor:     supervisor,
		Threads:        threads,
		Ingest:         ingestPipeline,
		WebhookSecrets: cfg.Webhooks.Secrets,
		Prep:           prepPipeline,
		Anomalies:      anomalyPipeline,
		Experts:        expertsPipeline,
		Embedder:       embedder,
		Vectors:        store,
		DORA:           events,
		Stores: map[string]api.Pinger{
			"relational": store,
			"timeseries": events,
			"graph":      graphStore,
		},
	})

	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("ForgeSight started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop taking new events, drain in-flight
	// work, then close the HTTP listener.
	if consumer != nil {
		consumer.Stop()
		slog.Info("Broker consumer stopped")
	}
	ingestPipeline.Stop()
	slog.Info("Ingestion pipeline drained")

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
