package agents

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/centinela-ai/centinela/internal/llm"
	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/prompts"
)

// Risk delta bounds per debate side. Model output is clamped into these
// ranges so a runaway reply cannot swing the arbiter.
const (
	maxProFraudDelta    = 0.15
	maxProCustomerDelta = 0.05
)

// debater holds what both debate stages share: an optional reasoning model
// and the prompt catalogue. A nil reasoner means the deterministic argument
// is used directly.
type debater struct {
	reasoner  llm.ChatProvider
	catalogue *prompts.Catalogue
	logger    *slog.Logger
}

// ProFraudStage argues the strictest defensible action.
type ProFraudStage struct {
	debater
}

// NewProFraudStage creates the stage. reasoner may be nil.
func NewProFraudStage(reasoner llm.ChatProvider, catalogue *prompts.Catalogue, logger *slog.Logger) *ProFraudStage {
	return &ProFraudStage{debater{reasoner: reasoner, catalogue: catalogue, logger: logger}}
}

func (*ProFraudStage) Name() string { return "DebateProFraud" }

func (s *ProFraudStage) Run(ctx context.Context, state *pipeline.EvalState) error {
	arg := s.argue(ctx, state, prompts.DebateProFraud, "pro_fraud", maxProFraudDelta, proFraudFallback)
	state.Metrics.ProFraud = &arg
	return nil
}

// ProCustomerStage argues for the least customer friction the evidence allows.
type ProCustomerStage struct {
	debater
}

// NewProCustomerStage creates the stage. reasoner may be nil.
func NewProCustomerStage(reasoner llm.ChatProvider, catalogue *prompts.Catalogue, logger *slog.Logger) *ProCustomerStage {
	return &ProCustomerStage{debater{reasoner: reasoner, catalogue: catalogue, logger: logger}}
}

func (*ProCustomerStage) Name() string { return "DebateProCustomer" }

func (s *ProCustomerStage) Run(ctx context.Context, state *pipeline.EvalState) error {
	arg := s.argue(ctx, state, prompts.DebateProCustomer, "pro_customer", maxProCustomerDelta, proCustomerFallback)
	state.Metrics.ProCustomer = &arg
	return nil
}

// argue tries the model path first and falls back to the deterministic
// argument on any failure. The fallback is also used when no reasoner is
// configured, which keeps the pipeline fully offline-capable.
func (d *debater) argue(
	ctx context.Context,
	state *pipeline.EvalState,
	promptName, stance string,
	maxDelta float64,
	fallback func(*pipeline.EvalState) pipeline.DebateArgument,
) pipeline.DebateArgument {
	if d.reasoner == nil {
		return fallback(state)
	}

	evidence, err := json.Marshal(state.Evidence)
	if err != nil {
		d.logger.Warn("agents: marshal evidence for debate, using fallback", "stance", stance, "error", err)
		return fallback(state)
	}
	prompt, err := d.catalogue.Render(promptName, map[string]string{"evidence": string(evidence)})
	if err != nil {
		d.logger.Warn("agents: render debate prompt, using fallback", "stance", stance, "error", err)
		return fallback(state)
	}

	reply, err := llm.GenerateJSON(ctx, d.reasoner, "Responde únicamente con JSON válido.", prompt)
	if err != nil {
		d.logger.Warn("agents: debate model failed, using fallback", "stance", stance, "error", err)
		return fallback(state)
	}

	arg := pipeline.DebateArgument{
		Stance:    stance,
		Proposal:  model.DecisionChallenge,
		RiskDelta: 0.02,
	}
	if p, ok := reply["proposal"].(string); ok && model.ValidDecision(model.Decision(p)) {
		arg.Proposal = model.Decision(p)
	}
	if r, ok := reply["reasoning"].(string); ok {
		arg.Reasoning = r
	}
	if delta, ok := reply["risk_delta"].(float64); ok {
		arg.RiskDelta = delta
	}
	arg.RiskDelta = clamp(arg.RiskDelta, 0, maxDelta)
	return arg
}

// proFraudFallback is the deterministic pro-fraud argument.
func proFraudFallback(state *pipeline.EvalState) pipeline.DebateArgument {
	ratio := 0.0
	if state.Metrics.AmountRatio != nil {
		ratio = *state.Metrics.AmountRatio
	}

	arg := pipeline.DebateArgument{Stance: "pro_fraud"}
	switch {
	case state.HasSignal(SignalExternalAlert) && ratio > 3:
		arg.Proposal = model.DecisionBlock
		arg.Reasoning = "Alta probabilidad de fraude: alerta externa detectada con monto significativamente elevado."
	case state.HasSignal(SignalAmountOutOfRange) && state.HasSignal(SignalUnusualHour):
		arg.Proposal = model.DecisionChallenge
		arg.Reasoning = "Múltiples señales de riesgo: monto y horario fuera de patrones habituales."
	default:
		arg.Proposal = model.DecisionChallenge
		arg.Reasoning = "Señales de riesgo detectadas que requieren verificación adicional."
	}

	switch {
	case len(state.Signals) >= 3:
		arg.RiskDelta = 0.05
	case len(state.Signals) == 2:
		arg.RiskDelta = 0.02
	}
	return arg
}

// proCustomerFallback is the deterministic pro-customer argument.
func proCustomerFallback(state *pipeline.EvalState) pipeline.DebateArgument {
	arg := pipeline.DebateArgument{Stance: "pro_customer"}

	minorOnly := true
	for _, sig := range state.Signals {
		if sig != SignalUnusualHour && sig != SignalNewDevice {
			minorOnly = false
			break
		}
	}

	if len(state.Signals) <= 1 && minorOnly {
		arg.Proposal = model.DecisionApprove
		arg.Reasoning = "Bajo riesgo: señales menores que no justifican bloqueo o challenge."
	} else {
		arg.Proposal = model.DecisionChallenge
		arg.Reasoning = "Aunque el cliente tiene historial limpio, las señales detectadas requieren verificación."
	}

	if !state.HasSignal(SignalExternalAlert) {
		arg.RiskDelta = 0.03
	}
	return arg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
