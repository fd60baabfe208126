package model

import (
	"strings"

	"github.com/google/uuid"
)

// HITL case lifecycle states.
const (
	CaseStatusOpen     = "OPEN"
	CaseStatusResolved = "RESOLVED"
)

// HitlCase is a human-review case attached to a transaction. At most one
// OPEN case exists per transaction at any time.
type HitlCase struct {
	CaseID        string `json:"case_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	CreatedAt     string `json:"created_at"`
	ResolvedAt    string `json:"resolved_at,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// HitlResolution is the analyst's verdict for an open case.
type HitlResolution struct {
	Decision Decision `json:"decision"`
	Notes    string   `json:"notes"`
}

// NewCaseID returns a fresh human-readable case identifier, e.g. HITL-3F9A01BC.
func NewCaseID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "HITL-" + strings.ToUpper(raw[:8])
}
