package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/storage"
)

func hitlStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHitlGateNoReviewNeeded(t *testing.T) {
	store := hitlStore(t)
	state := &pipeline.EvalState{Transaction: baseTxn(), Decision: model.DecisionApprove}

	require.NoError(t, NewHitlGateStage(store).Run(context.Background(), state))
	assert.Nil(t, state.HitlCase)

	cases, err := store.ListCases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestHitlGateOpensCase(t *testing.T) {
	store := hitlStore(t)
	state := &pipeline.EvalState{
		Transaction: baseTxn(),
		Decision:    model.DecisionEscalate,
		Hitl:        model.HitlInfo{Required: true, Reason: HitlReasonPolicyOrLowConfidence},
	}

	require.NoError(t, NewHitlGateStage(store).Run(context.Background(), state))

	require.NotNil(t, state.HitlCase)
	assert.Regexp(t, `^HITL-[0-9A-F]{8}$`, state.HitlCase.CaseID)
	assert.Equal(t, model.CaseStatusOpen, state.HitlCase.Status)
	assert.Equal(t, HitlReasonPolicyOrLowConfidence, state.HitlCase.Reason)
	assert.NotEmpty(t, state.HitlCase.CreatedAt)

	stored, err := store.GetCase(context.Background(), state.HitlCase.CaseID)
	require.NoError(t, err)
	assert.Equal(t, *state.HitlCase, stored)
}

func TestHitlGateReusesOpenCase(t *testing.T) {
	store := hitlStore(t)
	first := &pipeline.EvalState{
		Transaction: baseTxn(),
		Hitl:        model.HitlInfo{Required: true, Reason: HitlReasonBorderlineConfidence},
	}
	require.NoError(t, NewHitlGateStage(store).Run(context.Background(), first))

	second := &pipeline.EvalState{
		Transaction: baseTxn(),
		Hitl:        model.HitlInfo{Required: true, Reason: HitlReasonBorderlineConfidence},
	}
	require.NoError(t, NewHitlGateStage(store).Run(context.Background(), second))

	require.NotNil(t, second.HitlCase)
	assert.Equal(t, first.HitlCase.CaseID, second.HitlCase.CaseID)

	cases, err := store.ListCases(context.Background())
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func TestHitlGateResolvedCaseDoesNotBlockNewOne(t *testing.T) {
	store := hitlStore(t)
	first := &pipeline.EvalState{
		Transaction: baseTxn(),
		Hitl:        model.HitlInfo{Required: true, Reason: HitlReasonBorderlineConfidence},
	}
	require.NoError(t, NewHitlGateStage(store).Run(context.Background(), first))

	_, err := store.ResolveCase(context.Background(), first.HitlCase.CaseID,
		model.HitlResolution{Decision: model.DecisionApprove, Notes: "ok"}, "2025-01-16T09:00:00Z")
	require.NoError(t, err)

	second := &pipeline.EvalState{
		Transaction: baseTxn(),
		Hitl:        model.HitlInfo{Required: true, Reason: HitlReasonBorderlineConfidence},
	}
	require.NoError(t, NewHitlGateStage(store).Run(context.Background(), second))
	assert.NotEqual(t, first.HitlCase.CaseID, second.HitlCase.CaseID)
}

type unreachableStage struct{ name string }

func (s unreachableStage) Name() string { return s.name }

func (s unreachableStage) Run(context.Context, *pipeline.EvalState) error {
	return errors.New("index unreachable")
}

func TestStageFailureEscalatesWithCaseAndExplanation(t *testing.T) {
	store := hitlStore(t)
	stages := []pipeline.Stage{
		NewContextStage(),
		NewBehaviorStage(),
		unreachableStage{name: "PolicyRAG"},
		NewEvidenceStage(),
		NewProFraudStage(nil, nil, testLogger),
		NewProCustomerStage(nil, nil, testLogger),
		NewArbiterStage(),
		NewExplainStage(store, nil, nil, testLogger),
		NewHitlGateStage(store),
	}

	state := &pipeline.EvalState{Transaction: baseTxn(), RunID: "run-test"}
	require.NoError(t, pipeline.New(stages, store, testLogger).Run(context.Background(), state))

	// A mid-run failure escalates the decision and the downstream stages
	// explain it and open the review case for it.
	assert.Equal(t, model.DecisionEscalate, state.Decision)
	assert.True(t, state.Hitl.Required)
	assert.Equal(t, "agent_error:PolicyRAG", state.Hitl.Reason)
	assert.Equal(t, "La transacción requiere revisión humana para una validación adicional.", state.ExplanationCustomer)

	require.NotNil(t, state.HitlCase)
	open, err := store.FindOpenByTransaction(context.Background(), state.Transaction.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, state.HitlCase.CaseID, open.CaseID)
	assert.Equal(t, "agent_error:PolicyRAG", open.Reason)
}
