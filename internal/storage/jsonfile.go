package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/centinela-ai/centinela/internal/model"
)

// FileStore is the JSON-file backend. Index files hold transactions,
// behaviors, decisions, and HITL cases; each transaction's audit trail is an
// append-only JSONL file. A lock file plus an in-process mutex serialize
// writers.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

const lockTimeout = 5 * time.Second

// NewFileStore creates the backend rooted at dir, creating the directory
// tree if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "audit"), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) lock() (*lockFile, error) {
	s.mu.Lock()
	lf, err := acquireLock(filepath.Join(s.dir, "centinela.lock"), lockTimeout)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return lf, nil
}

func (s *FileStore) unlock(lf *lockFile) {
	lf.release()
	s.mu.Unlock()
}

// readJSON loads a JSON index file into out. A missing file leaves out unchanged.
func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("storage: decode %q: %w", path, err)
	}
	return nil
}

// writeJSON writes v atomically via a temp file rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: rename %q: %w", tmp, err)
	}
	return nil
}

func (s *FileStore) transactionsPath() string { return filepath.Join(s.dir, "transactions.json") }
func (s *FileStore) behaviorsPath() string    { return filepath.Join(s.dir, "behaviors.json") }
func (s *FileStore) decisionsPath() string    { return filepath.Join(s.dir, "decisions.json") }
func (s *FileStore) casesPath() string        { return filepath.Join(s.dir, "cases.json") }

func (s *FileStore) auditPath(transactionID string) string {
	// Transaction IDs come from ingested CSVs; sanitize path separators.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(transactionID)
	return filepath.Join(s.dir, "audit", safe+".jsonl")
}

// SaveTransactions inserts or replaces transactions by transaction_id.
func (s *FileStore) SaveTransactions(_ context.Context, txns []model.Transaction) error {
	lf, err := s.lock()
	if err != nil {
		return err
	}
	defer s.unlock(lf)

	index := map[string]model.Transaction{}
	if err := readJSON(s.transactionsPath(), &index); err != nil {
		return err
	}
	for _, t := range txns {
		index[t.TransactionID] = t
	}
	return writeJSON(s.transactionsPath(), index)
}

// SaveBehaviors inserts or replaces behavior profiles by customer_id.
func (s *FileStore) SaveBehaviors(_ context.Context, behaviors []model.CustomerBehavior) error {
	lf, err := s.lock()
	if err != nil {
		return err
	}
	defer s.unlock(lf)

	index := map[string]model.CustomerBehavior{}
	if err := readJSON(s.behaviorsPath(), &index); err != nil {
		return err
	}
	for _, b := range behaviors {
		index[b.CustomerID] = b
	}
	return writeJSON(s.behaviorsPath(), index)
}

// GetTransaction returns a transaction or ErrNotFound.
func (s *FileStore) GetTransaction(_ context.Context, transactionID string) (model.Transaction, error) {
	index := map[string]model.Transaction{}
	if err := readJSON(s.transactionsPath(), &index); err != nil {
		return model.Transaction{}, err
	}
	t, ok := index[transactionID]
	if !ok {
		return model.Transaction{}, fmt.Errorf("storage: transaction %q: %w", transactionID, ErrNotFound)
	}
	return t, nil
}

// GetBehavior returns a customer's behavior profile or ErrNotFound.
func (s *FileStore) GetBehavior(_ context.Context, customerID string) (model.CustomerBehavior, error) {
	index := map[string]model.CustomerBehavior{}
	if err := readJSON(s.behaviorsPath(), &index); err != nil {
		return model.CustomerBehavior{}, err
	}
	b, ok := index[customerID]
	if !ok {
		return model.CustomerBehavior{}, fmt.Errorf("storage: behavior %q: %w", customerID, ErrNotFound)
	}
	return b, nil
}

// ListTransactions returns all transactions ordered by transaction_id.
func (s *FileStore) ListTransactions(_ context.Context) ([]model.Transaction, error) {
	index := map[string]model.Transaction{}
	if err := readJSON(s.transactionsPath(), &index); err != nil {
		return nil, err
	}
	out := make([]model.Transaction, 0, len(index))
	for _, t := range index {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

// SaveDecision stores the latest decision for a transaction.
func (s *FileStore) SaveDecision(_ context.Context, transactionID string, decision model.DecisionResponse) error {
	lf, err := s.lock()
	if err != nil {
		return err
	}
	defer s.unlock(lf)

	index := map[string]model.DecisionResponse{}
	if err := readJSON(s.decisionsPath(), &index); err != nil {
		return err
	}
	index[transactionID] = decision
	return writeJSON(s.decisionsPath(), index)
}

// GetDecision returns the stored decision for a transaction or ErrNotFound.
func (s *FileStore) GetDecision(_ context.Context, transactionID string) (model.DecisionResponse, error) {
	index := map[string]model.DecisionResponse{}
	if err := readJSON(s.decisionsPath(), &index); err != nil {
		return model.DecisionResponse{}, err
	}
	d, ok := index[transactionID]
	if !ok {
		return model.DecisionResponse{}, fmt.Errorf("storage: decision for %q: %w", transactionID, ErrNotFound)
	}
	return d, nil
}

// AppendEvent appends one event to the transaction's JSONL trail. A seq at
// or below the trail's current maximum is bumped past it, so two runs racing
// NextSeq against the append cannot mint duplicate seqs.
func (s *FileStore) AppendEvent(_ context.Context, event model.AuditEvent) error {
	lf, err := s.lock()
	if err != nil {
		return err
	}
	defer s.unlock(lf)

	next, err := s.nextSeq(event.TransactionID)
	if err != nil {
		return err
	}
	if event.Seq < next {
		event.Seq = next
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("storage: encode audit event: %w", err)
	}
	f, err := os.OpenFile(s.auditPath(event.TransactionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("storage: append audit event: %w", err)
	}
	return nil
}

// ListEvents returns a transaction's events ordered by seq ascending.
func (s *FileStore) ListEvents(_ context.Context, transactionID string) ([]model.AuditEvent, error) {
	lf, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer s.unlock(lf)
	return s.listEvents(transactionID)
}

// listEvents reads the trail; callers hold the lock.
func (s *FileStore) listEvents(transactionID string) ([]model.AuditEvent, error) {
	f, err := os.Open(s.auditPath(transactionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []model.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev model.AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("storage: decode audit line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("storage: read audit file: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// NextSeq returns max(seq)+1 over the transaction's events, starting at 1.
func (s *FileStore) NextSeq(_ context.Context, transactionID string) (int, error) {
	lf, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer s.unlock(lf)
	return s.nextSeq(transactionID)
}

// nextSeq computes max(seq)+1; callers hold the lock.
func (s *FileStore) nextSeq(transactionID string) (int, error) {
	events, err := s.listEvents(transactionID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, ev := range events {
		if ev.Seq > max {
			max = ev.Seq
		}
	}
	return max + 1, nil
}

// CreateCase stores a new HITL case.
func (s *FileStore) CreateCase(_ context.Context, c model.HitlCase) error {
	lf, err := s.lock()
	if err != nil {
		return err
	}
	defer s.unlock(lf)

	var cases []model.HitlCase
	if err := readJSON(s.casesPath(), &cases); err != nil {
		return err
	}
	cases = append(cases, c)
	return writeJSON(s.casesPath(), cases)
}

// GetCase returns a case by id or ErrNotFound.
func (s *FileStore) GetCase(_ context.Context, caseID string) (model.HitlCase, error) {
	var cases []model.HitlCase
	if err := readJSON(s.casesPath(), &cases); err != nil {
		return model.HitlCase{}, err
	}
	for _, c := range cases {
		if c.CaseID == caseID {
			return c, nil
		}
	}
	return model.HitlCase{}, fmt.Errorf("storage: case %q: %w", caseID, ErrNotFound)
}

// FindOpenByTransaction returns the transaction's OPEN case or ErrNotFound.
func (s *FileStore) FindOpenByTransaction(_ context.Context, transactionID string) (model.HitlCase, error) {
	var cases []model.HitlCase
	if err := readJSON(s.casesPath(), &cases); err != nil {
		return model.HitlCase{}, err
	}
	for _, c := range cases {
		if c.TransactionID == transactionID && c.Status == model.CaseStatusOpen {
			return c, nil
		}
	}
	return model.HitlCase{}, fmt.Errorf("storage: open case for %q: %w", transactionID, ErrNotFound)
}

// ListCases returns all cases ordered by created_at ascending.
func (s *FileStore) ListCases(_ context.Context) ([]model.HitlCase, error) {
	var cases []model.HitlCase
	if err := readJSON(s.casesPath(), &cases); err != nil {
		return nil, err
	}
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].CreatedAt < cases[j].CreatedAt })
	return cases, nil
}

// ResolveCase marks an OPEN case resolved with the analyst's verdict.
func (s *FileStore) ResolveCase(_ context.Context, caseID string, resolution model.HitlResolution, resolvedAt string) (model.HitlCase, error) {
	lf, err := s.lock()
	if err != nil {
		return model.HitlCase{}, err
	}
	defer s.unlock(lf)

	var cases []model.HitlCase
	if err := readJSON(s.casesPath(), &cases); err != nil {
		return model.HitlCase{}, err
	}
	for i, c := range cases {
		if c.CaseID != caseID {
			continue
		}
		if c.Status == model.CaseStatusResolved {
			return model.HitlCase{}, fmt.Errorf("storage: case %q: %w", caseID, ErrCaseResolved)
		}
		c.Status = model.CaseStatusResolved
		c.Resolution = string(resolution.Decision)
		c.Notes = resolution.Notes
		c.ResolvedAt = resolvedAt
		cases[i] = c
		if err := writeJSON(s.casesPath(), cases); err != nil {
			return model.HitlCase{}, err
		}
		return c, nil
	}
	return model.HitlCase{}, fmt.Errorf("storage: case %q: %w", caseID, ErrNotFound)
}

// Healthy returns nil if the data directory is writable.
func (s *FileStore) Healthy(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("storage: data dir unavailable: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }
