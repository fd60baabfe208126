package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/embedding"
	"github.com/centinela-ai/centinela/internal/rag"
	"github.com/centinela-ai/centinela/internal/storage"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const transactionsCSV = `transaction_id,customer_id,amount,currency,country,channel,device_id,timestamp,merchant_id
T-1001,C-001,120.00,EUR,ES,web,D-1,2025-01-15T14:30:00Z,M-SHOP
T-1002,C-002,480.00,EUR,VE,app,D-9,2025-01-15T03:10:00Z,M-FRAUD
`

const behaviorsCSV = `customer_id,usual_amount_avg,usual_hours,usual_countries,usual_devices
C-001,120.00,08-20,"ES,FR",D-1
C-002,120.00,09-18,"ES","D-2,D-3"
`

const policiesJSON = `[
  {"policy_id": "POL-001", "rule": "Montos superiores a 3x el promedio requieren CHALLENGE.", "version": "v2"},
  {"policy_id": "POL-002", "rule": "Alerta externa con monto elevado → BLOCK.", "version": "v1"}
]`

func TestLoadTransactionsCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "transactions.csv", transactionsCSV)

	txns, err := LoadTransactionsCSV(path)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "T-1001", txns[0].TransactionID)
	assert.Equal(t, 120.0, txns[0].Amount)
	assert.Equal(t, "M-FRAUD", txns[1].MerchantID)
}

func TestLoadTransactionsCSVBadAmount(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "transactions.csv",
		"transaction_id,customer_id,amount\nT-1,C-1,not-a-number\n")

	_, err := LoadTransactionsCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad amount")
	assert.Contains(t, err.Error(), "row 2")
}

func TestLoadBehaviorsCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "behaviors.csv", behaviorsCSV)

	behaviors, err := LoadBehaviorsCSV(path)
	require.NoError(t, err)
	require.Len(t, behaviors, 2)
	assert.Equal(t, []string{"ES", "FR"}, behaviors[0].UsualCountries)
	assert.Equal(t, []string{"D-1"}, behaviors[0].UsualDevices)
	assert.Equal(t, []string{"D-2", "D-3"}, behaviors[1].UsualDevices)
	assert.Equal(t, "08-20", behaviors[0].UsualHours)
}

func TestLoadPoliciesJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.json", policiesJSON)

	policies, err := LoadPoliciesJSON(path)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "POL-001", policies[0].PolicyID)
	assert.Equal(t, "v2", policies[0].Version)
}

func TestLoadPoliciesJSONMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.json", `[{"policy_id": "", "rule": "x", "version": "v1"}]`)

	_, err := LoadPoliciesJSON(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestIngesterRun(t *testing.T) {
	dir := t.TempDir()
	txnPath := writeFile(t, dir, "transactions.csv", transactionsCSV)
	behPath := writeFile(t, dir, "behaviors.csv", behaviorsCSV)
	polPath := writeFile(t, dir, "policies.json", policiesJSON)

	store, err := storage.NewFileStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	index, err := rag.NewSQLiteIndex(filepath.Join(dir, "policies.db"))
	require.NoError(t, err)
	defer func() { _ = index.Close() }()
	retriever := rag.NewRetriever(index, embedding.NewMockProvider(64))

	ing := New(store, retriever, txnPath, behPath, polPath, testLogger)
	res, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Transactions: 2, Behaviors: 2, Policies: 2}, res)

	// Re-running is idempotent.
	res, err = ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Transactions: 2, Behaviors: 2, Policies: 2}, res)

	txns, err := store.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	_, citations, err := retriever.Retrieve(context.Background(), "montos elevados", 2)
	require.NoError(t, err)
	assert.Len(t, citations, 2)
}
