package websearch

import (
	"context"
	"strings"
)

// MockProvider returns canned alerts keyed by substrings of the query.
// It keeps the whole system runnable offline and deterministic.
type MockProvider struct{}

// NewMockProvider creates the canned provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Search matches known merchant patterns against the uppercased query.
func (p *MockProvider) Search(_ context.Context, query string, limit int) ([]Result, error) {
	upper := strings.ToUpper(query)

	var results []Result
	switch {
	case strings.Contains(upper, "M-FRAUD"):
		results = []Result{
			{
				URL:     "https://example.com/alerts/fraud-ring-2025",
				Summary: "Alerta de red de fraude activa asociada a este comercio.",
			},
			{
				URL:     "https://owasp.org/security-alert-2025-001",
				Summary: "Patrones de transacciones fraudulentas reportados en la región.",
			},
		}
	case strings.Contains(upper, "M-SUSPICIOUS"):
		results = []Result{
			{
				URL:     "https://mitre.org/cve/2025/merchant-fraud",
				Summary: "Actividad sospechosa reportada recientemente para este comercio.",
			},
		}
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
