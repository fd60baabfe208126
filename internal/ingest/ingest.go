// Package ingest loads the seed datasets: transactions and customer
// behavior profiles from CSV, fraud policies from JSON. Ingestion replaces
// the policy index contents so re-running it is idempotent.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/rag"
	"github.com/centinela-ai/centinela/internal/storage"
)

// Result reports what one ingestion run loaded.
type Result struct {
	Transactions int `json:"transactions"`
	Behaviors    int `json:"behaviors"`
	Policies     int `json:"policies"`
}

// Ingester wires the loaders to storage and the policy index.
type Ingester struct {
	store     storage.TransactionStore
	retriever *rag.Retriever
	logger    *slog.Logger

	transactionsCSV string
	behaviorsCSV    string
	policiesJSON    string
}

// New creates an ingester over the configured seed files.
func New(store storage.TransactionStore, retriever *rag.Retriever, transactionsCSV, behaviorsCSV, policiesJSON string, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:           store,
		retriever:       retriever,
		logger:          logger,
		transactionsCSV: transactionsCSV,
		behaviorsCSV:    behaviorsCSV,
		policiesJSON:    policiesJSON,
	}
}

// Run loads all three datasets. Transactions and behaviors upsert into
// storage; policies replace the vector index contents.
func (i *Ingester) Run(ctx context.Context) (Result, error) {
	txns, err := LoadTransactionsCSV(i.transactionsCSV)
	if err != nil {
		return Result{}, err
	}
	behaviors, err := LoadBehaviorsCSV(i.behaviorsCSV)
	if err != nil {
		return Result{}, err
	}
	policies, err := LoadPoliciesJSON(i.policiesJSON)
	if err != nil {
		return Result{}, err
	}

	if err := i.store.SaveTransactions(ctx, txns); err != nil {
		return Result{}, fmt.Errorf("ingest: save transactions: %w", err)
	}
	if err := i.store.SaveBehaviors(ctx, behaviors); err != nil {
		return Result{}, fmt.Errorf("ingest: save behaviors: %w", err)
	}
	if err := i.retriever.IndexPolicies(ctx, policies); err != nil {
		return Result{}, fmt.Errorf("ingest: index policies: %w", err)
	}

	res := Result{Transactions: len(txns), Behaviors: len(behaviors), Policies: len(policies)}
	i.logger.Info("ingest: datasets loaded",
		"transactions", res.Transactions,
		"behaviors", res.Behaviors,
		"policies", res.Policies)
	return res, nil
}

// LoadTransactionsCSV parses the transactions dataset. Columns are resolved
// by header name, so column order doesn't matter.
func LoadTransactionsCSV(path string) ([]model.Transaction, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var txns []model.Transaction
	for n, row := range rows {
		get := fieldGetter(header, row)
		amount, err := strconv.ParseFloat(get("amount"), 64)
		if err != nil {
			return nil, fmt.Errorf("ingest: %s row %d: bad amount %q: %w", path, n+2, get("amount"), err)
		}
		txns = append(txns, model.Transaction{
			TransactionID: get("transaction_id"),
			CustomerID:    get("customer_id"),
			Amount:        amount,
			Currency:      get("currency"),
			Country:       get("country"),
			Channel:       get("channel"),
			DeviceID:      get("device_id"),
			Timestamp:     get("timestamp"),
			MerchantID:    get("merchant_id"),
		})
	}
	return txns, nil
}

// LoadBehaviorsCSV parses the customer behavior dataset. usual_countries
// and usual_devices are comma-separated inside their cells.
func LoadBehaviorsCSV(path string) ([]model.CustomerBehavior, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var behaviors []model.CustomerBehavior
	for n, row := range rows {
		get := fieldGetter(header, row)
		avg, err := strconv.ParseFloat(get("usual_amount_avg"), 64)
		if err != nil {
			return nil, fmt.Errorf("ingest: %s row %d: bad usual_amount_avg %q: %w", path, n+2, get("usual_amount_avg"), err)
		}
		behaviors = append(behaviors, model.CustomerBehavior{
			CustomerID:     get("customer_id"),
			UsualAmountAvg: avg,
			UsualHours:     get("usual_hours"),
			UsualCountries: splitList(get("usual_countries")),
			UsualDevices:   splitList(get("usual_devices")),
		})
	}
	return behaviors, nil
}

// LoadPoliciesJSON parses the fraud policy catalogue.
func LoadPoliciesJSON(path string) ([]model.FraudPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %q: %w", path, err)
	}
	var policies []model.FraudPolicy
	if err := json.Unmarshal(data, &policies); err != nil {
		return nil, fmt.Errorf("ingest: decode %q: %w", path, err)
	}
	for n, p := range policies {
		if p.PolicyID == "" || p.Rule == "" {
			return nil, fmt.Errorf("ingest: %s policy %d: policy_id and rule are required", path, n)
		}
	}
	return policies, nil
}

func readCSV(path string) (rows [][]string, header map[string]int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	head, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("ingest: %q is empty", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read header of %q: %w", path, err)
	}
	header = make(map[string]int, len(head))
	for i, name := range head {
		header[strings.TrimSpace(name)] = i
	}

	rows, err = r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read %q: %w", path, err)
	}
	return rows, header, nil
}

func fieldGetter(header map[string]int, row []string) func(string) string {
	return func(name string) string {
		idx, ok := header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
}

// splitList normalizes a comma-separated cell into a clean slice.
func splitList(cell string) []string {
	if cell == "" {
		return []string{}
	}
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
