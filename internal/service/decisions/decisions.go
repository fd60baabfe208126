// Package decisions orchestrates transaction analysis: it consolidates the
// transaction with its behavior profile, runs the evaluation pipeline,
// persists the outcome, and handles manual HITL resolutions.
package decisions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/storage"
)

// Service runs evaluations and serves decision queries.
type Service struct {
	store  storage.Store
	orch   *pipeline.Orchestrator
	logger *slog.Logger
	now    func() time.Time
}

// New creates the service.
func New(store storage.Store, orch *pipeline.Orchestrator, logger *slog.Logger) *Service {
	return &Service{store: store, orch: orch, logger: logger, now: time.Now}
}

// Analysis is the outcome of one evaluation run.
type Analysis struct {
	TransactionID string                 `json:"transaction_id"`
	RunID         string                 `json:"run_id"`
	Decision      model.DecisionResponse `json:"decision"`
	HitlCase      *model.HitlCase        `json:"hitl_case,omitempty"`
}

// Analyze evaluates one transaction and persists the decision. Re-analyzing
// replaces the stored decision and extends the audit trail.
func (s *Service) Analyze(ctx context.Context, transactionID string) (Analysis, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return Analysis{}, fmt.Errorf("decisions: load transaction: %w", err)
	}

	behavior, err := s.store.GetBehavior(ctx, txn.CustomerID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return Analysis{}, fmt.Errorf("decisions: load behavior: %w", err)
		}
		// Unknown customers evaluate against an empty profile, which makes
		// every dimension look novel and pushes the pipeline toward review.
		s.logger.Warn("decisions: no behavior profile, using empty profile",
			"transaction_id", transactionID, "customer_id", txn.CustomerID)
		behavior = model.CustomerBehavior{CustomerID: txn.CustomerID}
	}

	state := &pipeline.EvalState{
		Transaction: model.Consolidate(txn, behavior),
		RunID:       uuid.NewString(),
	}
	if err := s.orch.Run(ctx, state); err != nil {
		return Analysis{}, fmt.Errorf("decisions: run pipeline: %w", err)
	}

	resp := state.Response()
	if err := s.store.SaveDecision(ctx, transactionID, resp); err != nil {
		return Analysis{}, fmt.Errorf("decisions: persist decision: %w", err)
	}

	s.logger.Info("decisions: transaction analyzed",
		"transaction_id", transactionID,
		"run_id", state.RunID,
		"decision", resp.Decision,
		"confidence", resp.Confidence,
		"hitl_required", resp.Hitl.Required)

	return Analysis{
		TransactionID: transactionID,
		RunID:         state.RunID,
		Decision:      resp,
		HitlCase:      state.HitlCase,
	}, nil
}

// BatchResult reports an analyze-all run. Failures are isolated per
// transaction so one bad record never stops the batch.
type BatchResult struct {
	Analyzed int               `json:"analyzed"`
	Results  []Analysis        `json:"results"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// AnalyzeAll evaluates every transaction that has no stored decision yet.
func (s *Service) AnalyzeAll(ctx context.Context) (BatchResult, error) {
	txns, err := s.store.ListTransactions(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("decisions: list transactions: %w", err)
	}

	result := BatchResult{Errors: map[string]string{}}
	for _, txn := range txns {
		if _, err := s.store.GetDecision(ctx, txn.TransactionID); err == nil {
			continue // already decided
		} else if !errors.Is(err, storage.ErrNotFound) {
			return BatchResult{}, fmt.Errorf("decisions: check pending: %w", err)
		}

		analysis, err := s.Analyze(ctx, txn.TransactionID)
		if err != nil {
			s.logger.Warn("decisions: batch item failed",
				"transaction_id", txn.TransactionID, "error", err)
			result.Errors[txn.TransactionID] = err.Error()
			continue
		}
		result.Results = append(result.Results, analysis)
		result.Analyzed++
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

// ListTransactions returns summaries joined with their stored decisions.
func (s *Service) ListTransactions(ctx context.Context) ([]model.TransactionSummary, error) {
	txns, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("decisions: list transactions: %w", err)
	}

	summaries := make([]model.TransactionSummary, 0, len(txns))
	for _, txn := range txns {
		summary := model.TransactionSummary{
			TransactionID: txn.TransactionID,
			CustomerID:    txn.CustomerID,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			Timestamp:     txn.Timestamp,
		}
		decision, err := s.store.GetDecision(ctx, txn.TransactionID)
		if err == nil {
			summary.Decision = &decision.Decision
			summary.Confidence = &decision.Confidence
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("decisions: load decision: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Detail is a transaction with its decision and full audit trail.
type Detail struct {
	Transaction model.Transaction       `json:"transaction"`
	Decision    *model.DecisionResponse `json:"decision,omitempty"`
	AuditEvents []model.AuditEvent      `json:"audit_events"`
}

// GetDetail returns the full picture for one transaction.
func (s *Service) GetDetail(ctx context.Context, transactionID string) (Detail, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return Detail{}, fmt.Errorf("decisions: load transaction: %w", err)
	}

	detail := Detail{Transaction: txn}
	decision, err := s.store.GetDecision(ctx, transactionID)
	if err == nil {
		detail.Decision = &decision
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Detail{}, fmt.Errorf("decisions: load decision: %w", err)
	}

	events, err := s.store.ListEvents(ctx, transactionID)
	if err != nil {
		return Detail{}, fmt.Errorf("decisions: load audit trail: %w", err)
	}
	if events == nil {
		events = []model.AuditEvent{}
	}
	detail.AuditEvents = events
	return detail, nil
}

// ListCases returns every HITL case.
func (s *Service) ListCases(ctx context.Context) ([]model.HitlCase, error) {
	cases, err := s.store.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("decisions: list cases: %w", err)
	}
	if cases == nil {
		cases = []model.HitlCase{}
	}
	return cases, nil
}

// ResolveCase applies an analyst's verdict to an open case: the case is
// closed, an audit event records the manual step, and the stored decision
// is overwritten with the resolution.
func (s *Service) ResolveCase(ctx context.Context, caseID string, resolution model.HitlResolution) (model.HitlCase, error) {
	if !model.ValidDecision(resolution.Decision) {
		return model.HitlCase{}, fmt.Errorf("decisions: invalid resolution decision %q", resolution.Decision)
	}

	original, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("decisions: load case: %w", err)
	}

	resolvedAt := s.now().UTC().Format(time.RFC3339)
	resolved, err := s.store.ResolveCase(ctx, caseID, resolution, resolvedAt)
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("decisions: resolve case: %w", err)
	}

	seq, err := s.store.NextSeq(ctx, resolved.TransactionID)
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("decisions: audit seq: %w", err)
	}
	event := model.AuditEvent{
		TransactionID: resolved.TransactionID,
		RunID:         "hitl-manual",
		Seq:           seq,
		TS:            resolvedAt,
		DurationMS:    0,
		Agent:         "HITL",
		InputSummary:  fmt.Sprintf("case_id=%s, original_reason=%s", caseID, original.Reason),
		OutputSummary: fmt.Sprintf("decision=%s", resolution.Decision),
		OutputJSON: map[string]any{
			"decision": string(resolution.Decision),
			"notes":    resolution.Notes,
		},
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return model.HitlCase{}, fmt.Errorf("decisions: audit manual resolution: %w", err)
	}

	decision, err := s.store.GetDecision(ctx, resolved.TransactionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.HitlCase{}, fmt.Errorf("decisions: load decision for overwrite: %w", err)
	}
	decision.Decision = resolution.Decision
	decision.ExplanationCustomer = "Resolución manual: " + resolution.Notes
	decision.ExplanationAudit += fmt.Sprintf(" Resolución HITL: %s - %s", resolution.Decision, resolution.Notes)
	if err := s.store.SaveDecision(ctx, resolved.TransactionID, decision); err != nil {
		return model.HitlCase{}, fmt.Errorf("decisions: persist resolved decision: %w", err)
	}

	s.logger.Info("decisions: case resolved",
		"case_id", caseID,
		"transaction_id", resolved.TransactionID,
		"decision", resolution.Decision)
	return resolved, nil
}
