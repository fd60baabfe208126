package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/storage"
)

// Stage is one step of the evaluation. Stages mutate the shared state and
// report failures through the returned error; they must not panic.
type Stage interface {
	// Name is the agent name recorded in the audit trail.
	Name() string

	Run(ctx context.Context, state *EvalState) error
}

// Orchestrator executes the stages in order, writing one audit event per
// stage. The stage list is fixed at construction.
type Orchestrator struct {
	stages []Stage
	audit  storage.AuditSink
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates an orchestrator over the given stages.
func New(stages []Stage, audit storage.AuditSink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stages: stages,
		audit:  audit,
		logger: logger,
		tracer: otel.Tracer("centinela/pipeline"),
	}
}

// Run executes every stage against the state. A failing stage is recorded as
// an error event and the run continues with the decision forced to
// ESCALATE_TO_HUMAN, so the explanation and HITL stages downstream see the
// escalation and act on it. The first failure wins and is re-asserted after
// every later stage, overriding whatever the arbiter concluded. Only
// audit-persistence failures abort the run, since an evaluation without a
// trail is worthless.
func (o *Orchestrator) Run(ctx context.Context, state *EvalState) error {
	var failedStage string

	for _, stage := range o.stages {
		if err := o.runStage(ctx, stage, state); err != nil {
			var persistErr *auditPersistError
			if errors.As(err, &persistErr) {
				return fmt.Errorf("pipeline: stage %s: %w", stage.Name(), persistErr.err)
			}
			if failedStage == "" {
				failedStage = stage.Name()
			}
			o.logger.Warn("pipeline: stage failed, continuing",
				"transaction_id", state.Transaction.TransactionID,
				"run_id", state.RunID,
				"stage", stage.Name(),
				"error", err)
		}
		if failedStage != "" {
			state.Decision = model.DecisionEscalate
			state.Hitl = model.HitlInfo{Required: true, Reason: "agent_error:" + failedStage}
		}
	}
	return nil
}

// auditPersistError wraps failures writing the audit trail, which are the
// only errors that abort a run.
type auditPersistError struct{ err error }

func (e *auditPersistError) Error() string { return e.err.Error() }

func (e *auditPersistError) Unwrap() error { return e.err }

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, state *EvalState) error {
	ctx, span := o.tracer.Start(ctx, "pipeline."+stage.Name(),
		trace.WithAttributes(
			attribute.String("transaction.id", state.Transaction.TransactionID),
			attribute.String("run.id", state.RunID),
		))
	defer span.End()

	inputSummary := fmt.Sprintf("signals=%d, metrics_keys=%v", len(state.Signals), state.Metrics.Keys())
	internalBefore := len(state.CitationsInternal)
	externalBefore := len(state.CitationsExternal)

	start := time.Now()
	stageErr := stage.Run(ctx, state)
	duration := time.Since(start)

	seq, err := o.audit.NextSeq(ctx, state.Transaction.TransactionID)
	if err != nil {
		return &auditPersistError{err: err}
	}

	event := model.AuditEvent{
		TransactionID: state.Transaction.TransactionID,
		RunID:         state.RunID,
		Seq:           seq,
		TS:            time.Now().UTC().Format(time.RFC3339),
		DurationMS:    duration.Milliseconds(),
		Agent:         stage.Name(),
		InputSummary:  inputSummary,
	}

	if stageErr != nil {
		span.RecordError(stageErr)
		span.SetStatus(codes.Error, stageErr.Error())
		event.Agent = stage.Name() + "_error"
		event.OutputSummary = "Error: " + stageErr.Error()
		event.OutputJSON = map[string]any{"error": stageErr.Error()}
	} else {
		event.OutputSummary = o.outputSummary(state, internalBefore, externalBefore)
		event.OutputJSON = o.outputJSON(state)
	}

	if err := o.audit.AppendEvent(ctx, event); err != nil {
		return &auditPersistError{err: err}
	}
	return stageErr
}

// outputSummary renders the one-line result recorded per stage. Citation
// counts appear only when the stage added citations of that kind.
func (o *Orchestrator) outputSummary(state *EvalState, internalBefore, externalBefore int) string {
	parts := []string{fmt.Sprintf("signals=%d", len(state.Signals))}
	if len(state.CitationsInternal) > internalBefore {
		parts = append(parts, fmt.Sprintf("citations=%d", len(state.CitationsInternal)))
	}
	if len(state.CitationsExternal) > externalBefore {
		parts = append(parts, fmt.Sprintf("external_citations=%d", len(state.CitationsExternal)))
	}
	if state.Decision != "" {
		parts = append(parts, fmt.Sprintf("decision=%s", state.Decision))
	}
	if state.Confidence != nil {
		parts = append(parts, fmt.Sprintf("confidence=%.2f", *state.Confidence))
	}
	return strings.Join(parts, ", ")
}

// outputJSON is the structured snapshot stored alongside the summary.
func (o *Orchestrator) outputJSON(state *EvalState) map[string]any {
	out := map[string]any{
		"signals":   append([]string{}, state.Signals...),
		"metrics":   state.Metrics,
		"citations": append([]model.CitationInternal{}, state.CitationsInternal...),
	}
	if len(state.CitationsExternal) > 0 {
		out["external_citations"] = append([]model.CitationExternal{}, state.CitationsExternal...)
	}
	if state.Decision != "" {
		out["decision"] = string(state.Decision)
	}
	if state.Confidence != nil {
		out["confidence"] = *state.Confidence
	}
	return out
}
