// Package app wires the infrastructure into the running daemon: config
// loading, capability construction, the routing engine and the meta MCP
// server over stdio.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"metamcp/internal/domain"
	"metamcp/internal/infra/catalog"
	"metamcp/internal/infra/config"
	"metamcp/internal/infra/embeddings"
	"metamcp/internal/infra/llm"
	"metamcp/internal/infra/rag"
	"metamcp/internal/infra/selection"
	"metamcp/internal/infra/sources"
	"metamcp/internal/infra/telemetry"
	"metamcp/internal/infra/vectorstore"
)

const Version = "0.1.0"

type Application struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Application {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{logger: logger.Named("app")}
}

type ServeConfig struct {
	ConfigPath string

	// Flag overrides. Empty or zero means "use the config file value".
	Primary  string
	Fallback string
	MaxTools int
}

// Serve runs the daemon until ctx is cancelled: sources supervised, the
// telemetry surface listening and the meta MCP server on stdio.
func (a *Application) Serve(ctx context.Context, serveCfg ServeConfig) error {
	cfg, err := config.NewLoader(a.logger).Load(serveCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveCfg.Primary != "" {
		cfg.Strategy.Primary = serveCfg.Primary
	}
	if serveCfg.Fallback != "" {
		cfg.Strategy.Fallback = serveCfg.Fallback
	}
	if serveCfg.MaxTools > 0 {
		cfg.Strategy.MaxTools = serveCfg.MaxTools
	}

	metrics := telemetry.NewPrometheusMetrics(nil)

	store, err := vectorstore.Open(vectorstore.Options{
		Path:             cfg.VectorStore.Path,
		CollectionPrefix: cfg.VectorStore.CollectionPrefix,
		Logger:           a.logger,
	})
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	embedder, err := embeddings.NewService(ctx, embeddings.Config{
		Endpoint:  cfg.Embeddings.Endpoint,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey,
		BatchSize: cfg.Embeddings.BatchSize,
		Timeout:   cfg.Embeddings.Timeout,
	}, metrics, a.logger)
	if err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}

	completer, err := llm.NewCompleter(ctx, llm.Config{
		Endpoint:     cfg.LLM.Endpoint,
		Model:        cfg.LLM.Model,
		APIKey:       cfg.LLM.APIKey,
		APIKeyEnvVar: cfg.LLM.APIKeyEnvVar,
		Timeout:      cfg.LLM.Timeout,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("llm completer: %w", err)
	}

	cat := catalog.New(a.logger, metrics)
	pipeline := rag.NewPipeline(cfg.RAG, embedder, store, metrics, a.logger)

	vectorStrategy := selection.NewVectorStrategy(cfg.Strategy, embedder, store, cat, a.logger)
	llmStrategy := selection.NewLLMStrategy(cfg.Strategy, completer, a.logger)
	ragStrategy := selection.NewRAGStrategy(cfg.Strategy, pipeline, llmStrategy, a.logger)

	engine, err := selection.NewEngine(cfg.Strategy, map[string]domain.Strategy{
		vectorStrategy.Name(): vectorStrategy,
		llmStrategy.Name():    llmStrategy,
		ragStrategy.Name():    ragStrategy,
	}, metrics, a.logger)
	if err != nil {
		return fmt.Errorf("routing engine: %w", err)
	}

	manager := sources.NewManager(sources.Options{
		Catalog:  cat,
		Index:    store,
		Embedder: vectorStrategy,
		Docs:     pipeline,
		Metrics:  metrics,
		Logger:   a.logger,
	})
	manager.Start(ctx, cfg.Sources)
	defer manager.Shutdown()

	go manager.Watch(ctx)
	go a.refreshLoop(ctx, cfg.Refresh, cat, vectorStrategy)
	go func() {
		err := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
			Addr:    cfg.Telemetry.ListenAddress,
			Enabled: cfg.Telemetry.Enabled,
			Health:  &healthReporter{catalog: cat, manager: manager},
		}, a.logger)
		if err != nil {
			a.logger.Error("telemetry server failed", zap.Error(err))
		}
	}()
	go func() {
		err := config.NewLoader(a.logger).Watch(ctx, serveCfg.ConfigPath, func(next config.Config) {
			manager.Reload(ctx, next.Sources)
		})
		if err != nil {
			a.logger.Warn("config watch unavailable", zap.Error(err))
		}
	}()

	a.logger.Info("metamcp serving",
		zap.String("primary", cfg.Strategy.Primary),
		zap.String("fallback", cfg.Strategy.Fallback),
		zap.Int("sources", len(cfg.Sources)),
	)

	server := buildServer(engine, cat, manager, manager, Version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// refreshLoop periodically re-embeds catalogue entries that are missing
// vectors, catching tools that arrived while the backend was down.
func (a *Application) refreshLoop(ctx context.Context, interval time.Duration, cat *catalog.Catalog, vector *selection.VectorStrategy) {
	if interval <= 0 {
		interval = domain.DefaultToolRefreshSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := vector.UpdateToolEmbeddings(ctx, cat.Snapshot()); err != nil {
				a.logger.Warn("embedding refresh failed", zap.Error(err))
			}
		}
	}
}

// ValidateConfig parses and validates the config without starting anything.
func (a *Application) ValidateConfig(path string) error {
	cfg, err := config.NewLoader(a.logger).Load(path)
	if err != nil {
		return err
	}
	enabled := 0
	for _, src := range cfg.Sources {
		if src.Enabled {
			enabled++
		}
	}
	a.logger.Info("config valid",
		zap.String("path", path),
		zap.Int("sources", len(cfg.Sources)),
		zap.Int("enabled", enabled),
	)
	return nil
}

type healthReporter struct {
	catalog *catalog.Catalog
	manager *sources.Manager
}

func (h *healthReporter) HealthReport() telemetry.HealthReport {
	return telemetry.HealthReport{
		Status:    "ok",
		SourcesUp: len(h.manager.Statuses()),
		Tools:     h.catalog.Len(),
	}
}
