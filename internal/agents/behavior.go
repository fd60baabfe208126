package agents

import (
	"context"

	"github.com/centinela-ai/centinela/internal/pipeline"
)

// BehaviorStage turns the context metrics into a single behavioral risk
// score in [0, 1].
type BehaviorStage struct{}

// NewBehaviorStage creates the stage.
func NewBehaviorStage() *BehaviorStage { return &BehaviorStage{} }

func (*BehaviorStage) Name() string { return "BehavioralPattern" }

func (*BehaviorStage) Run(_ context.Context, state *pipeline.EvalState) error {
	m := state.Metrics

	risk := 0.0
	if m.AmountRatio != nil {
		switch ratio := *m.AmountRatio; {
		case ratio > 5:
			risk += 0.35
		case ratio > 3:
			risk += 0.25
		case ratio > 2:
			risk += 0.15
		}
	}
	if m.HourOutside != nil && *m.HourOutside {
		risk += 0.15
	}
	if m.NewDevice != nil && *m.NewDevice {
		risk += 0.20
	}
	if m.NewCountry != nil && *m.NewCountry {
		risk += 0.25
	}
	if risk > 1.0 {
		risk = 1.0
	}
	risk = round2(risk)

	state.Metrics.BehaviorRisk = &risk
	return nil
}
