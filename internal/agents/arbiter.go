package agents

import (
	"context"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
)

// Human-review reasons. Stored as short tags; presentation layers render
// them into prose.
const (
	HitlReasonPolicyOrLowConfidence = "policy_or_low_confidence"
	HitlReasonBorderlineConfidence  = "borderline_confidence"
)

// Arbiter thresholds.
const (
	blockConfidence     = 0.75
	challengeConfidence = 0.60
	approveConfidence   = 0.45
	externalAlertWeight = 0.20
)

// ArbiterStage weighs the behavioral risk, the external evidence, and both
// debate positions into the final decision. Rules are evaluated in a fixed
// order; the first match wins.
type ArbiterStage struct{}

// NewArbiterStage creates the stage.
func NewArbiterStage() *ArbiterStage { return &ArbiterStage{} }

func (*ArbiterStage) Name() string { return "Arbiter" }

func (*ArbiterStage) Run(_ context.Context, state *pipeline.EvalState) error {
	m := state.Metrics

	cf := 0.0
	if m.BehaviorRisk != nil {
		cf = *m.BehaviorRisk
	}
	if len(state.CitationsExternal) > 0 {
		cf += externalAlertWeight
	}
	if m.ProFraud != nil {
		cf += m.ProFraud.RiskDelta
	}
	if m.ProCustomer != nil {
		cf -= m.ProCustomer.RiskDelta
	}
	cf = clamp(cf, 0, 1)

	ratio := 0.0
	if m.AmountRatio != nil {
		ratio = *m.AmountRatio
	}
	hourOutside := m.HourOutside != nil && *m.HourOutside
	newCountry := m.NewCountry != nil && *m.NewCountry
	newDevice := m.NewDevice != nil && *m.NewDevice
	escalateHint := m.PolicyHint != nil && *m.PolicyHint == model.DecisionEscalate

	var decision model.Decision
	switch {
	case escalateHint && newCountry && newDevice:
		decision = model.DecisionEscalate
	case cf >= blockConfidence && state.HasSignal(SignalExternalAlert) && ratio > 3:
		decision = model.DecisionBlock
	case ratio > 3 && hourOutside:
		decision = model.DecisionChallenge
	case cf < approveConfidence && len(state.Signals) <= 1:
		decision = model.DecisionApprove
	case cf >= challengeConfidence:
		decision = model.DecisionChallenge
	default:
		decision = model.DecisionEscalate
	}

	confidence := round2(cf)
	state.Decision = decision
	state.Confidence = &confidence

	switch {
	case decision == model.DecisionEscalate:
		state.Hitl = model.HitlInfo{Required: true, Reason: HitlReasonPolicyOrLowConfidence}
	case cf >= approveConfidence && cf <= challengeConfidence:
		state.Hitl = model.HitlInfo{Required: true, Reason: HitlReasonBorderlineConfidence}
	default:
		state.Hitl = model.HitlInfo{}
	}
	return nil
}
