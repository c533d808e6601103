// Command ragflow serves the retrieval and RAG pipelines over HTTP,
// backed by PostgreSQL (pgvector) for search and Ollama for embeddings
// and generation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/ragflow/config"
	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/llm/ollama"
	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/observability"
	"github.com/kbukum/ragflow/search"
	"github.com/kbukum/ragflow/server"
	"github.com/kbukum/ragflow/storage/postgres"
	"github.com/kbukum/ragflow/util"
	"github.com/kbukum/ragflow/version"
)

const serviceName = "ragflow"

func main() {
	if err := run(); err != nil {
		logger.WithComponent("main").WithError(err).Error("service exited")
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := config.LoadConfig(serviceName, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.Logging, cfg.Name)
	log := logger.GetGlobalLogger()
	log.Info("starting", map[string]interface{}{
		"version":     version.Short(),
		"environment": cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, telemetryShutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer telemetryShutdown()

	store, err := postgres.New(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	log.Info("postgres connected", map[string]interface{}{
		"dsn": util.MaskSecret(cfg.Postgres.DSN, len("postgres://")),
	})

	llmBackend := ollama.NewProvider(cfg.Ollama)
	if !llmBackend.IsAvailable(ctx) {
		// Retrieval works without generation; report degraded via /healthz.
		log.Warn("ollama unreachable at startup", map[string]interface{}{
			"base_url": cfg.Ollama.BaseURL,
		})
	}

	runs := flow.NewRunManager(log)
	deps := search.Deps{
		Runs:     runs,
		Embedder: llmBackend,
		Vector:   store,
		LLM:      llmBackend,
		Log:      log,
		Metrics:  metrics,
	}

	searchPipeline, err := search.NewSearchPipeline(deps, cfg.Retrieval)
	if err != nil {
		return fmt.Errorf("assemble search pipeline: %w", err)
	}
	ragPipeline, err := search.NewRAGPipeline(deps, cfg.Retrieval, cfg.Generation)
	if err != nil {
		return fmt.Errorf("assemble rag pipeline: %w", err)
	}

	srv := server.New(cfg.Server, server.Deps{
		Log:      log,
		Runs:     runs,
		Search:   searchPipeline,
		RAG:      ragPipeline,
		Defaults: cfg.Retrieval,
		Metrics:  metrics,
		Health: []observability.HealthChecker{
			server.PingChecker{Name: "postgres", Ping: store.Ping},
			server.AvailabilityChecker{Name: "ollama", Check: llmBackend.IsAvailable},
		},
		Service: cfg.Name,
		Version: version.Short(),
	})
	return srv.Run(ctx)
}

// initTelemetry sets up the OTLP meter and tracer when enabled. The
// returned shutdown flushes both providers.
func initTelemetry(ctx context.Context, cfg Config) (*observability.Metrics, func(), error) {
	if !cfg.Telemetry.Enabled {
		return nil, func() {}, nil
	}

	mp, err := observability.InitMeter(ctx, &observability.MeterConfig{
		ServiceName:    cfg.Name,
		ServiceVersion: version.Short(),
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Interval:       cfg.Telemetry.Interval,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init meter: %w", err)
	}

	tp, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    cfg.Name,
		ServiceVersion: version.Short(),
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		shutdownProvider(mp.Shutdown)
		return nil, nil, fmt.Errorf("init tracer: %w", err)
	}

	metrics, err := observability.NewMetrics(observability.Meter(serviceName))
	if err != nil {
		shutdownProvider(tp.Shutdown)
		shutdownProvider(mp.Shutdown)
		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	shutdown := func() {
		shutdownProvider(tp.Shutdown)
		shutdownProvider(mp.Shutdown)
	}
	return metrics, shutdown, nil
}

func shutdownProvider(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.WithComponent("main").WithError(err).Warn("telemetry shutdown")
	}
}
