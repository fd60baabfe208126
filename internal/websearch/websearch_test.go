package websearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestAllowlist(t *testing.T) {
	al := NewAllowlist([]string{"example.com", "OWASP.org", " mitre.org "})

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "exact host", url: "https://example.com/alerts/1", want: true},
		{name: "subdomain", url: "https://intel.example.com/feed", want: true},
		{name: "case and whitespace normalized", url: "https://owasp.org/x", want: true},
		{name: "trimmed domain", url: "https://mitre.org/cve/2025", want: true},
		{name: "suffix trick rejected", url: "https://evilexample.com/x", want: false},
		{name: "unlisted host", url: "https://phishing.io/x", want: false},
		{name: "port stripped", url: "https://example.com:8443/x", want: true},
		{name: "invalid url", url: "://not a url", want: false},
		{name: "empty", url: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, al.Allows(tt.url))
		})
	}
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	results, err := p.Search(ctx, "fraud alert M-FRAUD ES", 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/alerts/fraud-ring-2025", results[0].URL)

	// Matching is case-insensitive on the query.
	results, err = p.Search(ctx, "fraud alert m-suspicious ve", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://mitre.org/cve/2025/merchant-fraud", results[0].URL)

	results, err = p.Search(ctx, "fraud alert M-SHOP ES", 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Limit caps the returned set.
	results, err = p.Search(ctx, "M-FRAUD", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

type failingProvider struct{}

func (failingProvider) Search(context.Context, string, int) ([]Result, error) {
	return nil, errors.New("connection refused")
}

func TestServiceProviderFailureDegradesToEmpty(t *testing.T) {
	svc := NewService(failingProvider{}, NewAllowlist([]string{"example.com"}), 3, discardLogger)
	assert.Empty(t, svc.Search(context.Background(), "fraud alert M-FRAUD"))
}

type staticProvider struct{ results []Result }

func (p staticProvider) Search(context.Context, string, int) ([]Result, error) {
	return p.results, nil
}

func TestServiceFiltersAndCaps(t *testing.T) {
	provider := staticProvider{results: []Result{
		{URL: "https://example.com/a", Summary: "a"},
		{URL: "https://untrusted.io/b", Summary: "b"},
		{URL: "https://example.com/c", Summary: "c"},
		{URL: "https://example.com/d", Summary: "d"},
	}}
	svc := NewService(provider, NewAllowlist([]string{"example.com"}), 2, discardLogger)

	got := svc.Search(context.Background(), "anything")
	require.Len(t, got, 2)
	assert.Equal(t, "https://example.com/a", got[0].URL)
	assert.Equal(t, "https://example.com/c", got[1].URL)
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fraud alert M-FRAUD ES", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"url":"https://example.com/a","summary":"alerta"}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "secret")
	results, err := p.Search(context.Background(), "fraud alert M-FRAUD ES", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alerta", results[0].Summary)
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	_, err := p.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
