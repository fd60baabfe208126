package agents

import (
	"context"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
)

// EvidenceStage freezes everything gathered so far into one snapshot. Both
// debaters receive this snapshot, never the live state, so they argue over
// the identical record.
type EvidenceStage struct{}

// NewEvidenceStage creates the stage.
func NewEvidenceStage() *EvidenceStage { return &EvidenceStage{} }

func (*EvidenceStage) Name() string { return "EvidenceAggregation" }

func (*EvidenceStage) Run(_ context.Context, state *pipeline.EvalState) error {
	state.Evidence = &pipeline.EvidenceSnapshot{
		Signals:           append([]string{}, state.Signals...),
		Metrics:           state.Metrics,
		CitationsInternal: append([]model.CitationInternal{}, state.CitationsInternal...),
		CitationsExternal: append([]model.CitationExternal{}, state.CitationsExternal...),
	}
	return nil
}
