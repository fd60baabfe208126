package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStoreTransactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	txns := []model.Transaction{
		{TransactionID: "T-2", CustomerID: "C-1", Amount: 100},
		{TransactionID: "T-1", CustomerID: "C-1", Amount: 50},
	}
	require.NoError(t, s.SaveTransactions(ctx, txns))

	got, err := s.GetTransaction(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Amount)

	_, err = s.GetTransaction(ctx, "T-404")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "T-1", list[0].TransactionID)
	assert.Equal(t, "T-2", list[1].TransactionID)

	// Re-saving replaces by id, no duplicates.
	txns[0].Amount = 200
	require.NoError(t, s.SaveTransactions(ctx, txns[:1]))
	list, err = s.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 200.0, list[1].Amount)
}

func TestFileStoreBehaviors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveBehaviors(ctx, []model.CustomerBehavior{
		{CustomerID: "C-1", UsualAmountAvg: 120, UsualHours: "08-20"},
	}))
	b, err := s.GetBehavior(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 120.0, b.UsualAmountAvg)

	_, err = s.GetBehavior(ctx, "C-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreDecisionOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetDecision(ctx, "T-1")
	require.ErrorIs(t, err, ErrNotFound)

	first := model.DecisionResponse{Decision: model.DecisionChallenge, Confidence: 0.62}
	require.NoError(t, s.SaveDecision(ctx, "T-1", first))

	second := model.DecisionResponse{Decision: model.DecisionApprove, Confidence: 0.30}
	require.NoError(t, s.SaveDecision(ctx, "T-1", second))

	got, err := s.GetDecision(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApprove, got.Decision)
}

func TestFileStoreAuditTrail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seq, err := s.NextSeq(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, model.AuditEvent{
			TransactionID: "T-1",
			RunID:         "run-1",
			Seq:           i,
			TS:            "2025-01-15T14:30:00Z",
			Agent:         "TransactionContext",
			OutputJSON:    map[string]any{"signals": []any{}},
		}))
	}

	events, err := s.ListEvents(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
	}

	seq, err = s.NextSeq(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, 4, seq)

	// Trails are isolated per transaction.
	other, err := s.ListEvents(ctx, "T-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFileStoreAppendBumpsStaleSeq(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendEvent(ctx, model.AuditEvent{TransactionID: "T-1", Seq: 1, Agent: "TransactionContext"}))
	require.NoError(t, s.AppendEvent(ctx, model.AuditEvent{TransactionID: "T-1", Seq: 2, Agent: "Arbiter"}))

	// An overlapping run that took NextSeq before the events above landed
	// would carry a stale seq; the append moves it past the trail's maximum.
	require.NoError(t, s.AppendEvent(ctx, model.AuditEvent{TransactionID: "T-1", Seq: 2, Agent: "HitlGate"}))

	events, err := s.ListEvents(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.Equal(t, "HitlGate", events[2].Agent)
}

func TestFileStoreAuditEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := model.AuditEvent{
		TransactionID: "T-1",
		RunID:         "run-9",
		Seq:           1,
		TS:            "2025-01-15T14:30:00Z",
		DurationMS:    12,
		Agent:         "PolicyRAG",
		InputSummary:  "signals=2, metrics_keys=[amount_ratio hour_outside]",
		OutputSummary: "signals=2, citations=2",
		OutputJSON: map[string]any{
			"signals":   []any{"Monto fuera de rango"},
			"citations": []any{map[string]any{"policy_id": "POL-001", "chunk_id": "1", "version": "v2"}},
		},
	}
	require.NoError(t, s.AppendEvent(ctx, ev))

	events, err := s.ListEvents(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev, events[0])
}

func TestFileStoreHitlCases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := model.HitlCase{
		CaseID:        "HITL-AAAA0001",
		TransactionID: "T-1",
		Status:        model.CaseStatusOpen,
		Reason:        "borderline_confidence",
		CreatedAt:     "2025-01-15T14:30:00Z",
	}
	require.NoError(t, s.CreateCase(ctx, c))

	got, err := s.GetCase(ctx, "HITL-AAAA0001")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	open, err := s.FindOpenByTransaction(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, c.CaseID, open.CaseID)

	_, err = s.FindOpenByTransaction(ctx, "T-2")
	assert.ErrorIs(t, err, ErrNotFound)

	resolved, err := s.ResolveCase(ctx, c.CaseID, model.HitlResolution{
		Decision: model.DecisionApprove,
		Notes:    "cliente verificado por teléfono",
	}, "2025-01-16T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusResolved, resolved.Status)
	assert.Equal(t, "APPROVE", resolved.Resolution)
	assert.Equal(t, "2025-01-16T09:00:00Z", resolved.ResolvedAt)

	// Resolved cases no longer count as open and cannot be resolved twice.
	_, err = s.FindOpenByTransaction(ctx, "T-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ResolveCase(ctx, c.CaseID, model.HitlResolution{Decision: model.DecisionBlock}, "2025-01-17T09:00:00Z")
	assert.ErrorIs(t, err, ErrCaseResolved)

	_, err = s.ResolveCase(ctx, "HITL-MISSING1", model.HitlResolution{Decision: model.DecisionBlock}, "2025-01-17T09:00:00Z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveTransactions(ctx, []model.Transaction{{TransactionID: "T-1"}}))
	require.NoError(t, s.AppendEvent(ctx, model.AuditEvent{TransactionID: "T-1", Seq: 1, Agent: "Arbiter"}))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	_, err = reopened.GetTransaction(ctx, "T-1")
	require.NoError(t, err)
	events, err := reopened.ListEvents(ctx, "T-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAuditSortKey(t *testing.T) {
	key := auditSortKey(model.AuditEvent{
		TS:    "2025-01-15T14:30:00Z",
		Seq:   7,
		Agent: "Arbiter",
	})
	assert.Equal(t, "ts#2025-01-15T14:30:00Z#seq#000007#agent#Arbiter", key)
}
