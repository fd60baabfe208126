// Package storage persists transactions, decisions, audit events, and HITL
// cases. Two backends implement the same contracts: a JSON-file backend for
// local deployments and a PostgreSQL backend for shared ones.
package storage

import (
	"context"
	"errors"

	"github.com/centinela-ai/centinela/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrCaseResolved is returned when resolving a HITL case that is already resolved.
var ErrCaseResolved = errors.New("storage: case already resolved")

// TransactionStore persists transactions, behavior profiles, and decisions.
type TransactionStore interface {
	// SaveTransactions inserts or replaces transactions by transaction_id.
	SaveTransactions(ctx context.Context, txns []model.Transaction) error

	// SaveBehaviors inserts or replaces behavior profiles by customer_id.
	SaveBehaviors(ctx context.Context, behaviors []model.CustomerBehavior) error

	// GetTransaction returns a transaction or ErrNotFound.
	GetTransaction(ctx context.Context, transactionID string) (model.Transaction, error)

	// GetBehavior returns a customer's behavior profile or ErrNotFound.
	GetBehavior(ctx context.Context, customerID string) (model.CustomerBehavior, error)

	// ListTransactions returns all transactions ordered by transaction_id.
	ListTransactions(ctx context.Context) ([]model.Transaction, error)

	// SaveDecision stores the latest decision for a transaction, replacing
	// any previous one.
	SaveDecision(ctx context.Context, transactionID string, decision model.DecisionResponse) error

	// GetDecision returns the stored decision for a transaction or ErrNotFound.
	GetDecision(ctx context.Context, transactionID string) (model.DecisionResponse, error)
}

// AuditSink is the append-only audit trail. Events are never updated or
// deleted once written.
type AuditSink interface {
	// AppendEvent appends one event to the transaction's trail.
	AppendEvent(ctx context.Context, event model.AuditEvent) error

	// ListEvents returns a transaction's events ordered by seq ascending.
	ListEvents(ctx context.Context, transactionID string) ([]model.AuditEvent, error)

	// NextSeq returns max(seq)+1 over the transaction's events, starting at 1.
	NextSeq(ctx context.Context, transactionID string) (int, error)
}

// HitlStore manages human-review cases. At most one OPEN case may exist per
// transaction.
type HitlStore interface {
	// CreateCase stores a new case.
	CreateCase(ctx context.Context, c model.HitlCase) error

	// GetCase returns a case by id or ErrNotFound.
	GetCase(ctx context.Context, caseID string) (model.HitlCase, error)

	// FindOpenByTransaction returns the transaction's OPEN case or ErrNotFound.
	FindOpenByTransaction(ctx context.Context, transactionID string) (model.HitlCase, error)

	// ListCases returns all cases ordered by created_at ascending.
	ListCases(ctx context.Context) ([]model.HitlCase, error)

	// ResolveCase marks an OPEN case resolved with the analyst's verdict.
	// Returns ErrNotFound for unknown cases and ErrCaseResolved when the
	// case was already resolved.
	ResolveCase(ctx context.Context, caseID string, resolution model.HitlResolution, resolvedAt string) (model.HitlCase, error)
}

// Store is the combined persistence surface the services depend on.
type Store interface {
	TransactionStore
	AuditSink
	HitlStore

	// Healthy returns nil if the backend is reachable.
	Healthy(ctx context.Context) error

	Close() error
}
