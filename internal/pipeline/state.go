// Package pipeline runs the evaluation stages over a shared state and writes
// one audit event per stage. A stage failure never aborts the run; it forces
// the final decision to human escalation instead.
package pipeline

import (
	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/websearch"
)

// DebateArgument is one side's position in the internal debate.
type DebateArgument struct {
	Stance    string         `json:"stance"` // "pro_fraud" or "pro_customer"
	Proposal  model.Decision `json:"proposal"`
	Reasoning string         `json:"reasoning"`
	RiskDelta float64        `json:"risk_delta"`
}

// Metrics accumulates the numeric findings each stage contributes. Fields
// are pointers so an unset metric is distinguishable from a zero value and
// stays out of the audit JSON.
type Metrics struct {
	Hour           *int            `json:"hour,omitempty"`
	AmountRatio    *float64        `json:"amount_ratio,omitempty"`
	HourOutside    *bool           `json:"hour_outside,omitempty"`
	NewCountry     *bool           `json:"new_country,omitempty"`
	NewDevice      *bool           `json:"new_device,omitempty"`
	BehaviorRisk   *float64        `json:"behavior_risk,omitempty"`
	PolicyHint     *model.Decision `json:"policy_hint,omitempty"`
	ExternalAlerts *int            `json:"external_alerts,omitempty"`
	ProFraud       *DebateArgument `json:"debate_pro_fraud,omitempty"`
	ProCustomer    *DebateArgument `json:"debate_pro_customer,omitempty"`
}

// Keys lists the names of the metrics that are set, in a fixed order.
func (m Metrics) Keys() []string {
	var keys []string
	add := func(set bool, name string) {
		if set {
			keys = append(keys, name)
		}
	}
	add(m.Hour != nil, "hour")
	add(m.AmountRatio != nil, "amount_ratio")
	add(m.HourOutside != nil, "hour_outside")
	add(m.NewCountry != nil, "new_country")
	add(m.NewDevice != nil, "new_device")
	add(m.BehaviorRisk != nil, "behavior_risk")
	add(m.PolicyHint != nil, "policy_hint")
	add(m.ExternalAlerts != nil, "external_alerts")
	add(m.ProFraud != nil, "debate_pro_fraud")
	add(m.ProCustomer != nil, "debate_pro_customer")
	return keys
}

// EvidenceSnapshot freezes everything gathered before the debate so both
// debaters argue over the identical record.
type EvidenceSnapshot struct {
	Signals           []string                 `json:"signals"`
	Metrics           Metrics                  `json:"metrics"`
	CitationsInternal []model.CitationInternal `json:"citations_internal"`
	CitationsExternal []model.CitationExternal `json:"citations_external"`
}

// EvalState is the shared state the stages read and extend during one run.
type EvalState struct {
	Transaction model.ConsolidatedTransaction
	RunID       string

	Signals           []string
	Metrics           Metrics
	CitationsInternal []model.CitationInternal
	CitationsExternal []model.CitationExternal
	ExternalResults   []websearch.Result
	Evidence          *EvidenceSnapshot

	Decision   model.Decision // empty until the arbiter rules
	Confidence *float64

	ExplanationCustomer string
	ExplanationAudit    string
	AISummary           string

	Hitl     model.HitlInfo
	HitlCase *model.HitlCase
}

// HasSignal reports whether the signal was already detected.
func (s *EvalState) HasSignal(name string) bool {
	for _, sig := range s.Signals {
		if sig == name {
			return true
		}
	}
	return false
}

// AddSignal appends a signal unless it is already present.
func (s *EvalState) AddSignal(name string) {
	if !s.HasSignal(name) {
		s.Signals = append(s.Signals, name)
	}
}

// Response projects the final state into the external decision shape.
func (s *EvalState) Response() model.DecisionResponse {
	confidence := 0.0
	if s.Confidence != nil {
		confidence = *s.Confidence
	}
	signals := s.Signals
	if signals == nil {
		signals = []string{}
	}
	internal := s.CitationsInternal
	if internal == nil {
		internal = []model.CitationInternal{}
	}
	external := s.CitationsExternal
	if external == nil {
		external = []model.CitationExternal{}
	}
	return model.DecisionResponse{
		Decision:            s.Decision,
		Confidence:          confidence,
		Signals:             signals,
		CitationsInternal:   internal,
		CitationsExternal:   external,
		ExplanationCustomer: s.ExplanationCustomer,
		ExplanationAudit:    s.ExplanationAudit,
		AISummary:           s.AISummary,
		Hitl:                s.Hitl,
	}
}
