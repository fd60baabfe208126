package agents

import (
	"context"
	"strings"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/rag"
)

// policyTopK is how many policy fragments the stage retrieves per run.
const policyTopK = 2

// PolicyRAGStage retrieves the most relevant internal policy fragments and
// derives an optional decision hint from their text.
type PolicyRAGStage struct {
	retriever *rag.Retriever
}

// NewPolicyRAGStage creates the stage.
func NewPolicyRAGStage(retriever *rag.Retriever) *PolicyRAGStage {
	return &PolicyRAGStage{retriever: retriever}
}

func (*PolicyRAGStage) Name() string { return "PolicyRAG" }

func (s *PolicyRAGStage) Run(ctx context.Context, state *pipeline.EvalState) error {
	m := state.Metrics
	ratio := 0.0
	if m.AmountRatio != nil {
		ratio = *m.AmountRatio
	}
	query := rag.BuildQuery(state.Signals, ratio,
		m.HourOutside != nil && *m.HourOutside,
		m.NewCountry != nil && *m.NewCountry,
		m.NewDevice != nil && *m.NewDevice,
	)

	hits, citations, err := s.retriever.Retrieve(ctx, query, policyTopK)
	if err != nil {
		return err
	}
	state.CitationsInternal = append(state.CitationsInternal, citations...)

	if hint, ok := policyHint(hits); ok {
		state.Metrics.PolicyHint = &hint
	}
	return nil
}

// policyHint scans retrieved rule text for an action keyword. When several
// rules suggest different actions the strictest wins.
func policyHint(hits []rag.Hit) (model.Decision, bool) {
	var foundEscalate, foundBlock, foundChallenge bool
	for _, h := range hits {
		text := strings.ToLower(h.Document.Content)
		if strings.Contains(text, "escalate_to_human") {
			foundEscalate = true
		}
		if strings.Contains(text, "block") {
			foundBlock = true
		}
		if strings.Contains(text, "challenge") {
			foundChallenge = true
		}
	}
	switch {
	case foundEscalate:
		return model.DecisionEscalate, true
	case foundBlock:
		return model.DecisionBlock, true
	case foundChallenge:
		return model.DecisionChallenge, true
	}
	return "", false
}
