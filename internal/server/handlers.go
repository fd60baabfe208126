package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/centinela-ai/centinela/internal/ingest"
	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/rag"
	"github.com/centinela-ai/centinela/internal/service/decisions"
	"github.com/centinela-ai/centinela/internal/storage"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	decisionSvc *decisions.Service
	ingester    *ingest.Ingester
	store       storage.Store
	index       rag.VectorIndex
	logger      *slog.Logger

	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds the dependencies for creating Handlers.
type HandlersDeps struct {
	DecisionSvc *decisions.Service
	Ingester    *ingest.Ingester
	Store       storage.Store
	Index       rag.VectorIndex
	Logger      *slog.Logger

	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		decisionSvc:         deps.DecisionSvc,
		ingester:            deps.Ingester,
		store:               deps.Store,
		index:               deps.Index,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
	}
}

// HandleIngest loads the configured seed datasets.
// POST /ingest
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingester.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAnalyze evaluates one transaction.
// POST /transactions/{id}/analyze
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	analysis, err := h.decisionSvc.Analyze(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found", id)
			return
		}
		writeError(w, http.StatusInternalServerError, "analysis failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// HandleAnalyzeAll evaluates every transaction without a stored decision.
// POST /transactions/analyze-all
func (h *Handlers) HandleAnalyzeAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.decisionSvc.AnalyzeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "batch analysis failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleListTransactions lists transactions with their latest decisions.
// GET /transactions
func (h *Handlers) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.decisionSvc.ListTransactions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	if summaries == nil {
		summaries = []model.TransactionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": summaries})
}

// HandleGetTransaction returns one transaction with its decision and trail.
// GET /transactions/{id}
func (h *Handlers) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := h.decisionSvc.GetDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found", id)
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleListCases lists HITL cases.
// GET /hitl
func (h *Handlers) HandleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.decisionSvc.ListCases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

// HandleResolveCase applies an analyst's verdict to an open case.
// POST /hitl/{case_id}/resolve
func (h *Handlers) HandleResolveCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")

	var resolution model.HitlResolution
	if err := decodeJSON(r, &resolution); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !model.ValidDecision(resolution.Decision) {
		writeError(w, http.StatusBadRequest, "invalid decision", string(resolution.Decision))
		return
	}

	resolved, err := h.decisionSvc.ResolveCase(r.Context(), caseID, resolution)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "case not found", caseID)
		case errors.Is(err, storage.ErrCaseResolved):
			writeError(w, http.StatusConflict, "case already resolved", caseID)
		default:
			writeError(w, http.StatusInternalServerError, "resolve failed", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// HandleHealth reports backend health.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	type componentHealth struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	status := http.StatusOK
	check := func(err error) componentHealth {
		if err != nil {
			status = http.StatusServiceUnavailable
			return componentHealth{Status: "unhealthy", Error: err.Error()}
		}
		return componentHealth{Status: "ok"}
	}

	resp := map[string]any{
		"storage": check(h.store.Healthy(r.Context())),
		"index":   check(h.index.Healthy(r.Context())),
		"version": h.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if status == http.StatusOK {
		resp["status"] = "ok"
	} else {
		resp["status"] = "degraded"
	}
	writeJSON(w, status, resp)
}
