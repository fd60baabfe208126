package model

// Decision is one of the four pipeline outcomes.
type Decision string

const (
	DecisionApprove   Decision = "APPROVE"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
	DecisionEscalate  Decision = "ESCALATE_TO_HUMAN"
)

// ValidDecision reports whether d is a known decision value.
func ValidDecision(d Decision) bool {
	switch d {
	case DecisionApprove, DecisionChallenge, DecisionBlock, DecisionEscalate:
		return true
	}
	return false
}

// FraudPolicy is an internal fraud rule indexed for retrieval.
type FraudPolicy struct {
	PolicyID string `json:"policy_id"`
	Rule     string `json:"rule"`
	Version  string `json:"version"`
}

// CitationInternal points at a retrieved policy fragment.
type CitationInternal struct {
	PolicyID string `json:"policy_id"`
	ChunkID  string `json:"chunk_id"`
	Version  string `json:"version"`
}

// CitationExternal points at an external intel source.
type CitationExternal struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// HitlInfo carries the human-review requirement for a decision.
type HitlInfo struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason"`
}

// DecisionResponse is the stable external decision shape persisted per
// transaction and returned by the analyze endpoints.
type DecisionResponse struct {
	Decision            Decision           `json:"decision"`
	Confidence          float64            `json:"confidence"`
	Signals             []string           `json:"signals"`
	CitationsInternal   []CitationInternal `json:"citations_internal"`
	CitationsExternal   []CitationExternal `json:"citations_external"`
	ExplanationCustomer string             `json:"explanation_customer"`
	ExplanationAudit    string             `json:"explanation_audit"`
	AISummary           string             `json:"ai_summary"`
	Hitl                HitlInfo           `json:"hitl"`
}

// TransactionSummary is the list-view projection of a transaction and its
// latest decision, if any.
type TransactionSummary struct {
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     string    `json:"timestamp"`
	Decision      *Decision `json:"decision,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
}
