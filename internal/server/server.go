package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/centinela-ai/centinela/internal/ingest"
	"github.com/centinela-ai/centinela/internal/rag"
	"github.com/centinela-ai/centinela/internal/service/decisions"
	"github.com/centinela-ai/centinela/internal/storage"
)

// Server is the Centinela HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DecisionSvc *decisions.Service
	Ingester    *ingest.Ingester
	Store       storage.Store
	Index       rag.VectorIndex
	Logger      *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DecisionSvc:         cfg.DecisionSvc,
		Ingester:            cfg.Ingester,
		Store:               cfg.Store,
		Index:               cfg.Index,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Ingestion.
	mux.HandleFunc("POST /ingest", h.HandleIngest)

	// Evaluation.
	mux.HandleFunc("POST /transactions/{id}/analyze", h.HandleAnalyze)
	mux.HandleFunc("POST /transactions/analyze-all", h.HandleAnalyzeAll)

	// Queries.
	mux.HandleFunc("GET /transactions", h.HandleListTransactions)
	mux.HandleFunc("GET /transactions/{id}", h.HandleGetTransaction)

	// Human review.
	mux.HandleFunc("GET /hitl", h.HandleListCases)
	mux.HandleFunc("POST /hitl/{case_id}/resolve", h.HandleResolveCase)

	// Health (no middleware exemptions needed, everything is unauthenticated).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// maxBodyMiddleware caps request body size.
func maxBodyMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
