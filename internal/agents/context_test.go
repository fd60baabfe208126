package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
)

func baseTxn() model.ConsolidatedTransaction {
	return model.ConsolidatedTransaction{
		TransactionID:   "T-1001",
		CustomerID:      "C-001",
		Amount:          120.0,
		Currency:        "EUR",
		Country:         "ES",
		Channel:         "web",
		DeviceID:        "D-1",
		Timestamp:       "2025-01-15T14:30:00Z",
		MerchantID:      "M-SHOP",
		UsualAmountAvg:  120.0,
		UsualHoursStart: 8,
		UsualHoursEnd:   20,
		UsualCountries:  []string{"ES", "FR"},
		UsualDevices:    []string{"D-1"},
	}
}

func runContext(t *testing.T, txn model.ConsolidatedTransaction) *pipeline.EvalState {
	t.Helper()
	state := &pipeline.EvalState{Transaction: txn, RunID: "run-test"}
	require.NoError(t, NewContextStage().Run(context.Background(), state))
	return state
}

func TestContextStageNormalTransaction(t *testing.T) {
	state := runContext(t, baseTxn())

	assert.Empty(t, state.Signals)
	require.NotNil(t, state.Metrics.AmountRatio)
	assert.Equal(t, 1.0, *state.Metrics.AmountRatio)
	require.NotNil(t, state.Metrics.Hour)
	assert.Equal(t, 14, *state.Metrics.Hour)
	assert.False(t, *state.Metrics.HourOutside)
	assert.False(t, *state.Metrics.NewCountry)
	assert.False(t, *state.Metrics.NewDevice)
}

func TestContextStageSignalOrder(t *testing.T) {
	txn := baseTxn()
	txn.Amount = 600.0                     // ratio 5.0
	txn.Timestamp = "2025-01-15T03:10:00Z" // outside 8-20
	txn.Country = "VE"
	txn.DeviceID = "D-NEW"

	state := runContext(t, txn)
	assert.Equal(t, []string{
		SignalAmountOutOfRange,
		SignalUnusualHour,
		SignalUnusualCountry,
		SignalNewDevice,
	}, state.Signals)
}

func TestContextStageRatioThreshold(t *testing.T) {
	// Exactly 3x is not out of range; the signal needs strictly more.
	txn := baseTxn()
	txn.Amount = 360.0
	state := runContext(t, txn)
	assert.NotContains(t, state.Signals, SignalAmountOutOfRange)

	txn.Amount = 360.01
	state = runContext(t, txn)
	assert.Contains(t, state.Signals, SignalAmountOutOfRange)
}

func TestContextStageNoHistory(t *testing.T) {
	txn := baseTxn()
	txn.UsualAmountAvg = 0
	state := runContext(t, txn)

	require.NotNil(t, state.Metrics.AmountRatio)
	assert.Equal(t, 999.0, *state.Metrics.AmountRatio)
	assert.Contains(t, state.Signals, SignalAmountOutOfRange)
}

func TestContextStageHourBoundaries(t *testing.T) {
	tests := []struct {
		name        string
		ts          string
		wantOutside bool
	}{
		{name: "start hour inclusive", ts: "2025-01-15T08:00:00Z", wantOutside: false},
		{name: "end hour inclusive", ts: "2025-01-15T20:59:00Z", wantOutside: false},
		{name: "before start", ts: "2025-01-15T07:59:00Z", wantOutside: true},
		{name: "after end", ts: "2025-01-15T21:00:00Z", wantOutside: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := baseTxn()
			txn.Timestamp = tt.ts
			state := runContext(t, txn)
			assert.Equal(t, tt.wantOutside, *state.Metrics.HourOutside)
		})
	}
}

func TestParseHour(t *testing.T) {
	assert.Equal(t, 14, parseHour("2025-01-15T14:30:00Z"))
	assert.Equal(t, 3, parseHour("2025-01-15T03:10:00+00:00"))
	assert.Equal(t, 23, parseHour("2025-01-15T23:00:00"))
	// Unparseable timestamps fall back to midday.
	assert.Equal(t, 12, parseHour("not-a-timestamp"))
	assert.Equal(t, 12, parseHour(""))
}

func TestContextStageDeterministic(t *testing.T) {
	txn := baseTxn()
	txn.Amount = 420.0
	a := runContext(t, txn)
	b := runContext(t, txn)
	assert.Equal(t, a.Signals, b.Signals)
	assert.Equal(t, a.Metrics, b.Metrics)
}
