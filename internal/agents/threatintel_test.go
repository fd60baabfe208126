package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/websearch"
)

func intelService() *websearch.Service {
	allowlist := websearch.NewAllowlist([]string{"example.com", "owasp.org", "mitre.org"})
	return websearch.NewService(websearch.NewMockProvider(), allowlist, 3, testLogger)
}

func TestThreatIntelStageAlerts(t *testing.T) {
	txn := baseTxn()
	txn.MerchantID = "M-FRAUD"
	state := &pipeline.EvalState{Transaction: txn}

	require.NoError(t, NewThreatIntelStage(intelService()).Run(context.Background(), state))

	require.Len(t, state.CitationsExternal, 2)
	assert.Equal(t, "https://example.com/alerts/fraud-ring-2025", state.CitationsExternal[0].URL)
	require.NotNil(t, state.Metrics.ExternalAlerts)
	assert.Equal(t, 2, *state.Metrics.ExternalAlerts)
	// The alert signal appears once regardless of result count.
	assert.Equal(t, []string{SignalExternalAlert}, state.Signals)
}

func TestThreatIntelStageNoAlerts(t *testing.T) {
	state := &pipeline.EvalState{Transaction: baseTxn()} // M-SHOP

	require.NoError(t, NewThreatIntelStage(intelService()).Run(context.Background(), state))

	assert.Empty(t, state.CitationsExternal)
	assert.Empty(t, state.Signals)
	require.NotNil(t, state.Metrics.ExternalAlerts)
	assert.Zero(t, *state.Metrics.ExternalAlerts)
}

func TestThreatIntelStageSignalNotDuplicated(t *testing.T) {
	txn := baseTxn()
	txn.MerchantID = "M-SUSPICIOUS"
	state := &pipeline.EvalState{Transaction: txn, Signals: []string{SignalExternalAlert}}

	require.NoError(t, NewThreatIntelStage(intelService()).Run(context.Background(), state))
	assert.Equal(t, []string{SignalExternalAlert}, state.Signals)
}
