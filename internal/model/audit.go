package model

// AuditEvent is one append-only record of a pipeline stage execution.
// Events are never mutated after persistence.
type AuditEvent struct {
	TransactionID string         `json:"transaction_id"`
	RunID         string         `json:"run_id"`
	Seq           int            `json:"seq"`
	TS            string         `json:"ts"` // ISO-8601 UTC
	DurationMS    int64          `json:"duration_ms"`
	Agent         string         `json:"agent"`
	InputSummary  string         `json:"input_summary"`
	OutputSummary string         `json:"output_summary"`
	OutputJSON    map[string]any `json:"output_json,omitempty"`
}
