package agents

import (
	"context"
	"fmt"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/websearch"
)

// ThreatIntelStage looks up external fraud alerts for the merchant. The
// underlying service never fails the run; a provider outage just means no
// external citations.
type ThreatIntelStage struct {
	search *websearch.Service
}

// NewThreatIntelStage creates the stage.
func NewThreatIntelStage(search *websearch.Service) *ThreatIntelStage {
	return &ThreatIntelStage{search: search}
}

func (*ThreatIntelStage) Name() string { return "ThreatIntel" }

func (s *ThreatIntelStage) Run(ctx context.Context, state *pipeline.EvalState) error {
	query := fmt.Sprintf("fraud alert %s %s", state.Transaction.MerchantID, state.Transaction.Country)

	results := s.search.Search(ctx, query)
	state.ExternalResults = results
	for _, r := range results {
		state.CitationsExternal = append(state.CitationsExternal, model.CitationExternal{
			URL:     r.URL,
			Summary: r.Summary,
		})
	}

	alerts := len(results)
	state.Metrics.ExternalAlerts = &alerts
	if alerts > 0 {
		state.AddSignal(SignalExternalAlert)
	}
	return nil
}
