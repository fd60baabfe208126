// Package centinela is the public API for embedding the Centinela fraud
// evaluation server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := centinela.New(
//	    centinela.WithVersion(version),
//	    centinela.WithLogger(logger),
//	    centinela.WithSearchProvider(myIntelFeed{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: centinela (root) imports
// internal/*, but internal/* never imports the root. Public extension types
// (EmbeddingProvider, SearchProvider, Reasoner) are standalone interfaces;
// the adapters bridging them to internal types live here because this is the
// only file that sees both sides of the boundary.
package centinela

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/centinela-ai/centinela/internal/agents"
	"github.com/centinela-ai/centinela/internal/config"
	"github.com/centinela-ai/centinela/internal/embedding"
	"github.com/centinela-ai/centinela/internal/ingest"
	"github.com/centinela-ai/centinela/internal/llm"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/prompts"
	"github.com/centinela-ai/centinela/internal/rag"
	"github.com/centinela-ai/centinela/internal/server"
	"github.com/centinela-ai/centinela/internal/service/decisions"
	"github.com/centinela-ai/centinela/internal/storage"
	"github.com/centinela-ai/centinela/internal/telemetry"
	"github.com/centinela-ai/centinela/internal/websearch"
)

// App is the Centinela server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	index        rag.VectorIndex
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server. It opens the storage backend and the policy
// index, wires the evaluation pipeline, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
		cfg.StorageBackend = "postgres"
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("centinela starting", "version", version, "port", cfg.Port,
		"storage", cfg.StorageBackend, "index", cfg.IndexBackend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	embedder := embedding.Provider(o.embeddingProvider)
	if embedder == nil {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	index, err := newIndex(cfg, embedder.Dimensions(), logger)
	if err != nil {
		_ = store.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("policy index: %w", err)
	}
	retriever := rag.NewRetriever(index, embedder)

	catalogue, err := prompts.Load()
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("prompts: %w", err)
	}

	reasoner := llm.ChatProvider(o.reasoner)
	if reasoner == nil {
		reasoner = newReasoner(cfg, logger)
	}

	var searchProvider websearch.Provider
	if o.searchProvider != nil {
		searchProvider = &searchProviderAdapter{p: o.searchProvider}
	} else {
		searchProvider = newSearchProvider(cfg, logger)
	}
	allowlist := websearch.NewAllowlist(splitDomains(cfg.SearchAllowlist))
	searchSvc := websearch.NewService(searchProvider, allowlist, cfg.SearchMaxResults, logger)

	stages := []pipeline.Stage{
		agents.NewContextStage(),
		agents.NewBehaviorStage(),
		agents.NewPolicyRAGStage(retriever),
		agents.NewThreatIntelStage(searchSvc),
		agents.NewEvidenceStage(),
		agents.NewProFraudStage(reasoner, catalogue, logger),
		agents.NewProCustomerStage(reasoner, catalogue, logger),
		agents.NewArbiterStage(),
		agents.NewExplainStage(store, reasoner, catalogue, logger),
		agents.NewHitlGateStage(store),
	}
	orch := pipeline.New(stages, store, logger)

	decisionSvc := decisions.New(store, orch, logger)
	ingester := ingest.New(store, retriever, cfg.TransactionsCSV, cfg.BehaviorsCSV, cfg.PoliciesJSON, logger)

	srv := server.New(server.ServerConfig{
		DecisionSvc:         decisionSvc,
		Ingester:            ingester,
		Store:               store,
		Index:               index,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		index:        index,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown is called automatically —
// callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the policy index,
// the storage backend, and the telemetry providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("centinela shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if err := a.index.Close(); err != nil {
		a.logger.Error("index close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("centinela stopped")
	return nil
}

// ── Backend constructors ───────────────────────────────────────────────────

func newStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "postgres":
		logger.Info("storage backend: postgres")
		return storage.NewPostgresStore(context.Background(), cfg.DatabaseURL, logger)
	default:
		logger.Info("storage backend: file", "dir", cfg.DataDir)
		return storage.NewFileStore(cfg.DataDir)
	}
}

func newIndex(cfg config.Config, dims int, logger *slog.Logger) (rag.VectorIndex, error) {
	switch cfg.IndexBackend {
	case "qdrant":
		logger.Info("policy index: qdrant", "url", cfg.QdrantURL, "collection", cfg.CollectionName)
		return rag.NewQdrantIndex(context.Background(), rag.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.CollectionName,
			Dims:       uint64(dims), //nolint:gosec // validated positive in config.Validate
		}, logger)
	default:
		logger.Info("policy index: sqlite", "path", cfg.IndexPath)
		return rag.NewSQLiteIndex(cfg.IndexPath)
	}
}

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CENTINELA_EMBEDDING_PROVIDER=openai, falling back to mock")
			return embedding.NewMockProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	default:
		logger.Info("embedding provider: mock (deterministic)", "dimensions", dims)
		return embedding.NewMockProvider(dims)
	}
}

func newReasoner(cfg config.Config, logger *slog.Logger) llm.ChatProvider {
	switch cfg.ReasonerProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CENTINELA_REASONER_PROVIDER=openai, debate runs deterministic")
			return nil
		}
		logger.Info("reasoner: openai", "model", cfg.ReasonerModel)
		return llm.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ReasonerModel)
	case "ollama":
		logger.Info("reasoner: ollama", "url", cfg.OllamaURL, "model", cfg.ReasonerModel)
		return llm.NewOllamaProvider(cfg.OllamaURL, cfg.ReasonerModel)
	default:
		logger.Info("reasoner: disabled, debate runs deterministic")
		return nil
	}
}

func newSearchProvider(cfg config.Config, logger *slog.Logger) websearch.Provider {
	switch cfg.SearchProvider {
	case "http":
		logger.Info("search provider: http", "url", cfg.SearchURL)
		return websearch.NewHTTPProvider(cfg.SearchURL, cfg.SearchAPIKey)
	default:
		logger.Info("search provider: mock (canned alerts)")
		return websearch.NewMockProvider()
	}
}

func splitDomains(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ── Adapters (defined here because this file imports both sides) ───────────

// searchProviderAdapter wraps a public SearchProvider to satisfy
// websearch.Provider.
type searchProviderAdapter struct {
	p SearchProvider
}

func (a *searchProviderAdapter) Search(ctx context.Context, query string, limit int) ([]websearch.Result, error) {
	results, err := a.p.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]websearch.Result, len(results))
	for i, r := range results {
		out[i] = websearch.Result{URL: r.URL, Summary: r.Summary}
	}
	return out, nil
}
