package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/storage"
)

func trailFor(t *testing.T, agents ...string) storage.AuditSink {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for i, agent := range agents {
		require.NoError(t, store.AppendEvent(context.Background(), model.AuditEvent{
			TransactionID: "T-1001",
			RunID:         "run-test",
			Seq:           i + 1,
			TS:            "2025-01-15T14:30:00Z",
			Agent:         agent,
		}))
	}
	return store
}

func fullTrail(t *testing.T) storage.AuditSink {
	return trailFor(t,
		"TransactionContext", "BehavioralPattern", "PolicyRAG", "ThreatIntel",
		"EvidenceAggregation", "DebateProFraud", "DebateProCustomer", "Arbiter")
}

func TestExplainStageCustomerLines(t *testing.T) {
	tests := []struct {
		decision model.Decision
		want     string
	}{
		{model.DecisionApprove, "La transacción fue aprobada. No se detectaron señales relevantes."},
		{model.DecisionChallenge, "La transacción requiere validación adicional por señales inusuales detectadas."},
		{model.DecisionBlock, "La transacción fue bloqueada por alta probabilidad de fraude según señales y evidencias."},
		{model.DecisionEscalate, "La transacción requiere revisión humana para una validación adicional."},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			state := &pipeline.EvalState{Transaction: baseTxn(), Decision: tt.decision}
			require.NoError(t, NewExplainStage(fullTrail(t), nil, nil, testLogger).Run(context.Background(), state))
			assert.Equal(t, tt.want, state.ExplanationCustomer)
		})
	}
}

func TestExplainStageAuditLine(t *testing.T) {
	confidence := 0.82
	state := &pipeline.EvalState{
		Transaction: baseTxn(),
		Decision:    model.DecisionBlock,
		Confidence:  &confidence,
		Signals:     []string{SignalAmountOutOfRange, SignalExternalAlert},
		CitationsInternal: []model.CitationInternal{
			{PolicyID: "POL-001", ChunkID: "1", Version: "v2"},
			{PolicyID: "POL-003", ChunkID: "1", Version: "v1"},
			{PolicyID: "POL-001", ChunkID: "1", Version: "v2"}, // duplicate collapses
		},
		CitationsExternal: []model.CitationExternal{{URL: "https://example.com/a", Summary: "alerta"}},
	}

	require.NoError(t, NewExplainStage(fullTrail(t), nil, nil, testLogger).Run(context.Background(), state))

	assert.Equal(t,
		"Se aplicó la política POL-001, POL-003. se detectó alerta externa. "+
			"Ruta de agentes: Context → Behavior → RAG → Web → Evidence → Debate → Decisión → Explicación.",
		state.ExplanationAudit)
}

func TestExplainStageAuditLineMinimal(t *testing.T) {
	state := &pipeline.EvalState{Transaction: baseTxn(), Decision: model.DecisionApprove}
	require.NoError(t, NewExplainStage(fullTrail(t), nil, nil, testLogger).Run(context.Background(), state))
	assert.Equal(t,
		"Ruta de agentes: Context → Behavior → RAG → Web → Evidence → Debate → Decisión → Explicación.",
		state.ExplanationAudit)
}

func TestExplainStagePathSkipsErrors(t *testing.T) {
	trail := trailFor(t, "TransactionContext", "BehavioralPattern_error", "Arbiter")
	state := &pipeline.EvalState{Transaction: baseTxn(), Decision: model.DecisionEscalate}
	require.NoError(t, NewExplainStage(trail, nil, nil, testLogger).Run(context.Background(), state))
	assert.Contains(t, state.ExplanationAudit, "Ruta de agentes: Context → Decisión → Explicación.")
}

func TestExplainStageSummaryReport(t *testing.T) {
	confidence := 0.82
	state := &pipeline.EvalState{
		Transaction: baseTxn(),
		Decision:    model.DecisionBlock,
		Confidence:  &confidence,
		Signals:     []string{SignalAmountOutOfRange, SignalExternalAlert},
		CitationsInternal: []model.CitationInternal{
			{PolicyID: "POL-001", ChunkID: "1", Version: "v2"},
		},
		CitationsExternal: []model.CitationExternal{
			{URL: "https://example.com/alerts/fraud-ring-2025", Summary: "Alerta de red de fraude activa asociada a este comercio."},
		},
	}
	state.Metrics.ProFraud = &pipeline.DebateArgument{
		Stance:    "pro_fraud",
		Reasoning: strings.Repeat("x", 200),
	}
	state.Metrics.ProCustomer = &pipeline.DebateArgument{
		Stance:    "pro_customer",
		Reasoning: "historial limpio",
	}

	require.NoError(t, NewExplainStage(fullTrail(t), nil, nil, testLogger).Run(context.Background(), state))
	report := state.AISummary

	assert.Contains(t, report, "## Resumen de evaluación")
	assert.Contains(t, report, "**1. Decisión:** Bloqueada (riesgo estimado: 82%)")
	assert.Contains(t, report, "**2. Señales detectadas:** Monto fuera de rango; Alerta externa")
	assert.Contains(t, report, "**3. Políticas internas (RAG):** POL-001 (v2, fragmento 1)")
	assert.Contains(t, report, "**4. Inteligencia externa:** Alerta de red de fraude activa asociada a este comercio. (https://example.com/alerts/fraud-ring-2025)")
	// Long debate reasoning is truncated with an ellipsis.
	assert.Contains(t, report, "Pro-fraude: "+strings.Repeat("x", 150)+"...")
	assert.Contains(t, report, "Pro-cliente: historial limpio")
	assert.Contains(t, report, "**6. Trazabilidad:** Ruta: Context → Behavior → RAG → Web → Evidence → Debate → Decisión → Explicación. "+
		"Acción recomendada: Mantener el bloqueo y notificar al cliente.")
}

func TestExplainStageModelDraftsExplanations(t *testing.T) {
	state := &pipeline.EvalState{
		Transaction: baseTxn(),
		Decision:    model.DecisionChallenge,
		Signals:     []string{SignalAmountOutOfRange},
	}
	reasoner := scriptedChat{reply: "La operación necesita una verificación adicional antes de completarse."}

	require.NoError(t, NewExplainStage(fullTrail(t), reasoner, loadCatalogue(t), testLogger).Run(context.Background(), state))

	assert.Equal(t, "La operación necesita una verificación adicional antes de completarse.", state.ExplanationCustomer)
	assert.Equal(t, "La operación necesita una verificación adicional antes de completarse.", state.ExplanationAudit)
	// The summary report stays deterministic regardless of the reasoner.
	assert.Contains(t, state.AISummary, "**1. Decisión:** Requiere validación")
}

func TestExplainStageModelErrorFallsBack(t *testing.T) {
	state := &pipeline.EvalState{Transaction: baseTxn(), Decision: model.DecisionEscalate}
	reasoner := scriptedChat{err: errors.New("model unavailable")}

	require.NoError(t, NewExplainStage(fullTrail(t), reasoner, loadCatalogue(t), testLogger).Run(context.Background(), state))

	assert.Equal(t, "La transacción requiere revisión humana para una validación adicional.", state.ExplanationCustomer)
	assert.Contains(t, state.ExplanationAudit, "Ruta de agentes: Context → Behavior → RAG → Web → Evidence → Debate → Decisión → Explicación.")
}

func TestExplainStageModelEmptyReplyFallsBack(t *testing.T) {
	state := &pipeline.EvalState{Transaction: baseTxn(), Decision: model.DecisionApprove}
	reasoner := scriptedChat{reply: "   \n"}

	require.NoError(t, NewExplainStage(fullTrail(t), reasoner, loadCatalogue(t), testLogger).Run(context.Background(), state))
	assert.Equal(t, "La transacción fue aprobada. No se detectaron señales relevantes.", state.ExplanationCustomer)
}

func TestExplainStageSummaryEmptySections(t *testing.T) {
	state := &pipeline.EvalState{Transaction: baseTxn(), Decision: model.DecisionApprove}
	require.NoError(t, NewExplainStage(fullTrail(t), nil, nil, testLogger).Run(context.Background(), state))

	assert.Contains(t, state.AISummary, "**2. Señales detectadas:** Ninguna")
	assert.Contains(t, state.AISummary, "**3. Políticas internas (RAG):** Sin políticas aplicables")
	assert.Contains(t, state.AISummary, "**4. Inteligencia externa:** Sin alertas externas.")
	assert.Contains(t, state.AISummary, "**5. Debate interno:** No disponible")
	assert.Contains(t, state.AISummary, "Acción recomendada: Continuar sin fricción.")
}
