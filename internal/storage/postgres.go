package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centinela-ai/centinela/internal/model"
)

// PostgresStore is the shared-deployment backend. Entities are stored as
// JSONB rows keyed by their natural IDs; audit events additionally carry a
// composite sort key so a transaction's trail reads back in order with a
// single index scan.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects a pool and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS behaviors (
	customer_id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	transaction_id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
	transaction_id TEXT NOT NULL,
	sort_key TEXT NOT NULL,
	seq INT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (transaction_id, sort_key)
);
CREATE TABLE IF NOT EXISTS hitl_cases (
	case_id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data JSONB NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS hitl_cases_open_per_txn
	ON hitl_cases (transaction_id) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS hitl_cases_status ON hitl_cases (status);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// auditSortKey builds the composite key that orders a transaction's trail:
// timestamp, then zero-padded seq, then agent name.
func auditSortKey(ev model.AuditEvent) string {
	return fmt.Sprintf("ts#%s#seq#%06d#agent#%s", ev.TS, ev.Seq, ev.Agent)
}

// SaveTransactions inserts or replaces transactions by transaction_id.
func (s *PostgresStore) SaveTransactions(ctx context.Context, txns []model.Transaction) error {
	batch := &pgx.Batch{}
	for _, t := range txns {
		batch.Queue(
			`INSERT INTO transactions (transaction_id, data) VALUES ($1, $2)
			 ON CONFLICT (transaction_id) DO UPDATE SET data = excluded.data`,
			t.TransactionID, t,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: save %d transactions: %w", len(txns), err)
	}
	return nil
}

// SaveBehaviors inserts or replaces behavior profiles by customer_id.
func (s *PostgresStore) SaveBehaviors(ctx context.Context, behaviors []model.CustomerBehavior) error {
	batch := &pgx.Batch{}
	for _, b := range behaviors {
		batch.Queue(
			`INSERT INTO behaviors (customer_id, data) VALUES ($1, $2)
			 ON CONFLICT (customer_id) DO UPDATE SET data = excluded.data`,
			b.CustomerID, b,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: save %d behaviors: %w", len(behaviors), err)
	}
	return nil
}

// GetTransaction returns a transaction or ErrNotFound.
func (s *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (model.Transaction, error) {
	var t model.Transaction
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM transactions WHERE transaction_id = $1`, transactionID,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Transaction{}, fmt.Errorf("storage: transaction %q: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return model.Transaction{}, fmt.Errorf("storage: get transaction: %w", err)
	}
	return t, nil
}

// GetBehavior returns a customer's behavior profile or ErrNotFound.
func (s *PostgresStore) GetBehavior(ctx context.Context, customerID string) (model.CustomerBehavior, error) {
	var b model.CustomerBehavior
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM behaviors WHERE customer_id = $1`, customerID,
	).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CustomerBehavior{}, fmt.Errorf("storage: behavior %q: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return model.CustomerBehavior{}, fmt.Errorf("storage: get behavior: %w", err)
	}
	return b, nil
}

// ListTransactions returns all transactions ordered by transaction_id.
func (s *PostgresStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM transactions ORDER BY transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate transactions: %w", err)
	}
	return out, nil
}

// SaveDecision stores the latest decision for a transaction.
func (s *PostgresStore) SaveDecision(ctx context.Context, transactionID string, decision model.DecisionResponse) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (transaction_id, data) VALUES ($1, $2)
		 ON CONFLICT (transaction_id) DO UPDATE SET data = excluded.data`,
		transactionID, decision,
	)
	if err != nil {
		return fmt.Errorf("storage: save decision for %q: %w", transactionID, err)
	}
	return nil
}

// GetDecision returns the stored decision for a transaction or ErrNotFound.
func (s *PostgresStore) GetDecision(ctx context.Context, transactionID string) (model.DecisionResponse, error) {
	var d model.DecisionResponse
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM decisions WHERE transaction_id = $1`, transactionID,
	).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DecisionResponse{}, fmt.Errorf("storage: decision for %q: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return model.DecisionResponse{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// AppendEvent appends one event to the transaction's trail.
func (s *PostgresStore) AppendEvent(ctx context.Context, event model.AuditEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (transaction_id, sort_key, seq, data) VALUES ($1, $2, $3, $4)`,
		event.TransactionID, auditSortKey(event), event.Seq, event,
	)
	if err != nil {
		return fmt.Errorf("storage: append audit event seq %d for %q: %w", event.Seq, event.TransactionID, err)
	}
	return nil
}

// ListEvents returns a transaction's events ordered by seq ascending.
func (s *PostgresStore) ListEvents(ctx context.Context, transactionID string) ([]model.AuditEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM audit_events WHERE transaction_id = $1 ORDER BY seq`, transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit events: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate audit events: %w", err)
	}
	return out, nil
}

// NextSeq returns max(seq)+1 over the transaction's events, starting at 1.
func (s *PostgresStore) NextSeq(ctx context.Context, transactionID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_events WHERE transaction_id = $1`, transactionID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("storage: next seq for %q: %w", transactionID, err)
	}
	return next, nil
}

// CreateCase stores a new HITL case. The partial unique index rejects a
// second OPEN case for the same transaction.
func (s *PostgresStore) CreateCase(ctx context.Context, c model.HitlCase) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hitl_cases (case_id, transaction_id, status, created_at, data)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.CaseID, c.TransactionID, c.Status, c.CreatedAt, c,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("storage: open case already exists for %q: %w", c.TransactionID, err)
		}
		return fmt.Errorf("storage: create case %q: %w", c.CaseID, err)
	}
	return nil
}

// GetCase returns a case by id or ErrNotFound.
func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (model.HitlCase, error) {
	var c model.HitlCase
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM hitl_cases WHERE case_id = $1`, caseID,
	).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HitlCase{}, fmt.Errorf("storage: case %q: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("storage: get case: %w", err)
	}
	return c, nil
}

// FindOpenByTransaction returns the transaction's OPEN case or ErrNotFound.
func (s *PostgresStore) FindOpenByTransaction(ctx context.Context, transactionID string) (model.HitlCase, error) {
	var c model.HitlCase
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM hitl_cases WHERE transaction_id = $1 AND status = 'OPEN'`, transactionID,
	).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HitlCase{}, fmt.Errorf("storage: open case for %q: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("storage: find open case: %w", err)
	}
	return c, nil
}

// ListCases returns all cases ordered by created_at ascending.
func (s *PostgresStore) ListCases(ctx context.Context) ([]model.HitlCase, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM hitl_cases ORDER BY created_at, case_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list cases: %w", err)
	}
	defer rows.Close()

	var out []model.HitlCase
	for rows.Next() {
		var c model.HitlCase
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("storage: scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate cases: %w", err)
	}
	return out, nil
}

// ResolveCase marks an OPEN case resolved with the analyst's verdict.
func (s *PostgresStore) ResolveCase(ctx context.Context, caseID string, resolution model.HitlResolution, resolvedAt string) (model.HitlCase, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("storage: begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var c model.HitlCase
	err = tx.QueryRow(ctx,
		`SELECT data FROM hitl_cases WHERE case_id = $1 FOR UPDATE`, caseID,
	).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HitlCase{}, fmt.Errorf("storage: case %q: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return model.HitlCase{}, fmt.Errorf("storage: load case for resolve: %w", err)
	}
	if c.Status == model.CaseStatusResolved {
		return model.HitlCase{}, fmt.Errorf("storage: case %q: %w", caseID, ErrCaseResolved)
	}

	c.Status = model.CaseStatusResolved
	c.Resolution = string(resolution.Decision)
	c.Notes = resolution.Notes
	c.ResolvedAt = resolvedAt

	if _, err := tx.Exec(ctx,
		`UPDATE hitl_cases SET status = $2, data = $3 WHERE case_id = $1`,
		caseID, c.Status, c,
	); err != nil {
		return model.HitlCase{}, fmt.Errorf("storage: update case %q: %w", caseID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.HitlCase{}, fmt.Errorf("storage: commit resolve tx: %w", err)
	}
	return c, nil
}

// Healthy returns nil if the database is reachable.
func (s *PostgresStore) Healthy(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("storage: postgres unhealthy: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
