package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/storage"
)

// HitlGateStage opens a human-review case when the decision requires one.
// Re-analyzing a transaction with an OPEN case reuses that case instead of
// opening a second one.
type HitlGateStage struct {
	cases storage.HitlStore
	now   func() time.Time
}

// NewHitlGateStage creates the stage.
func NewHitlGateStage(cases storage.HitlStore) *HitlGateStage {
	return &HitlGateStage{cases: cases, now: time.Now}
}

func (*HitlGateStage) Name() string { return "HitlGate" }

func (s *HitlGateStage) Run(ctx context.Context, state *pipeline.EvalState) error {
	if !state.Hitl.Required {
		return nil
	}

	existing, err := s.cases.FindOpenByTransaction(ctx, state.Transaction.TransactionID)
	if err == nil {
		state.HitlCase = &existing
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("agents: look up open case: %w", err)
	}

	c := model.HitlCase{
		CaseID:        model.NewCaseID(),
		TransactionID: state.Transaction.TransactionID,
		Status:        model.CaseStatusOpen,
		Reason:        state.Hitl.Reason,
		CreatedAt:     s.now().UTC().Format(time.RFC3339),
	}
	if err := s.cases.CreateCase(ctx, c); err != nil {
		return fmt.Errorf("agents: open case: %w", err)
	}
	state.HitlCase = &c
	return nil
}
