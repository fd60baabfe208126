// Package websearch provides governed external threat-intel lookup.
//
// A Service wraps a Provider behind a domain allowlist and a result cap.
// Providers never fail the pipeline: lookup errors degrade to zero results.
package websearch

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// Result is one external search hit.
type Result struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Provider performs the raw external search.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Allowlist filters URLs by domain suffix. The zero value allows nothing.
type Allowlist struct {
	domains []string
}

// NewAllowlist builds an allowlist from domain names, e.g. "owasp.org".
// A domain admits exact host matches and any subdomain.
func NewAllowlist(domains []string) Allowlist {
	cleaned := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			cleaned = append(cleaned, d)
		}
	}
	return Allowlist{domains: cleaned}
}

// Allows reports whether rawURL's host is on the allowlist.
// Unparseable URLs are rejected.
func (a Allowlist) Allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Service is the governed search entry point used by the pipeline.
type Service struct {
	provider   Provider
	allowlist  Allowlist
	maxResults int
	logger     *slog.Logger
}

// NewService wraps the provider with allowlist filtering and a result cap.
func NewService(provider Provider, allowlist Allowlist, maxResults int, logger *slog.Logger) *Service {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Service{provider: provider, allowlist: allowlist, maxResults: maxResults, logger: logger}
}

// Search runs the query and returns only allowlisted results, capped at the
// configured maximum. Provider failures are logged and return no results so
// a flaky intel source can never abort an evaluation.
func (s *Service) Search(ctx context.Context, query string) []Result {
	raw, err := s.provider.Search(ctx, query, s.maxResults)
	if err != nil {
		s.logger.Warn("websearch: provider failed, continuing without external intel",
			"query", query, "error", err)
		return nil
	}

	filtered := make([]Result, 0, len(raw))
	for _, r := range raw {
		if !s.allowlist.Allows(r.URL) {
			s.logger.Warn("websearch: dropping result outside allowlist", "url", r.URL)
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) == s.maxResults {
			break
		}
	}
	return filtered
}
