package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centinela-ai/centinela/internal/embedding"
	"github.com/centinela-ai/centinela/internal/model"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndexUpsertQuery(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	docs := []Document{
		{ID: "POL-001:v1:1", Content: "montos altos", Metadata: map[string]string{"policy_id": "POL-001", "chunk_id": "1", "version": "v1"}},
		{ID: "POL-002:v1:1", Content: "horario nocturno", Metadata: map[string]string{"policy_id": "POL-002", "chunk_id": "1", "version": "v1"}},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	}
	require.NoError(t, idx.Upsert(ctx, docs, vectors))

	hits, err := idx.Query(ctx, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "POL-001:v1:1", hits[0].Document.ID)
	assert.Equal(t, "POL-001", hits[0].Document.Metadata["policy_id"])
	assert.Greater(t, hits[0].Score, float32(0.9))

	// topK larger than the corpus returns everything, best first.
	hits, err = idx.Query(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "POL-002:v1:1", hits[0].Document.ID)
}

func TestSQLiteIndexUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	doc := Document{ID: "POL-001:v1:1", Content: "v1 rule", Metadata: map[string]string{"policy_id": "POL-001", "chunk_id": "1", "version": "v1"}}
	require.NoError(t, idx.Upsert(ctx, []Document{doc}, [][]float32{{1, 0}}))

	doc.Content = "updated rule"
	require.NoError(t, idx.Upsert(ctx, []Document{doc}, [][]float32{{0, 1}}))

	hits, err := idx.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "updated rule", hits[0].Document.Content)
}

func TestSQLiteIndexClear(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	doc := Document{ID: "POL-001:v1:1", Content: "rule", Metadata: map[string]string{"policy_id": "POL-001", "chunk_id": "1", "version": "v1"}}
	require.NoError(t, idx.Upsert(ctx, []Document{doc}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Clear(ctx))

	hits, err := idx.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteIndexPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policies.db")

	idx, err := NewSQLiteIndex(path)
	require.NoError(t, err)
	doc := Document{ID: "POL-001:v1:1", Content: "rule", Metadata: map[string]string{"policy_id": "POL-001", "chunk_id": "1", "version": "v1"}}
	require.NoError(t, idx.Upsert(ctx, []Document{doc}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteIndex(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	hits, err := reopened.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "POL-001:v1:1", hits[0].Document.ID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestRetrieverIndexAndRetrieve(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	retriever := NewRetriever(idx, embedding.NewMockProvider(64))

	policies := []model.FraudPolicy{
		{PolicyID: "POL-001", Rule: "Montos superiores a 3x el promedio requieren CHALLENGE.", Version: "v2"},
		{PolicyID: "POL-002", Rule: "Transacciones nocturnas fuera del horario habitual requieren validación.", Version: "v1"},
		{PolicyID: "POL-003", Rule: "País nuevo con dispositivo nuevo → ESCALATE_TO_HUMAN.", Version: "v1"},
	}
	require.NoError(t, retriever.IndexPolicies(ctx, policies))

	// Re-indexing clears first, so no duplicates accumulate.
	require.NoError(t, retriever.IndexPolicies(ctx, policies))

	hits, citations, err := retriever.Retrieve(ctx, "Monto fuera de rango; amount_ratio=4.00", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Len(t, citations, 2)
	for _, c := range citations {
		assert.NotEmpty(t, c.PolicyID)
		assert.Equal(t, "1", c.ChunkID)
		assert.NotEmpty(t, c.Version)
	}
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery([]string{"Monto fuera de rango", "Horario no habitual"}, 4.0, true, false, true)
	assert.Equal(t, "Monto fuera de rango; Horario no habitual; amount_ratio=4.00; hour_outside=true; new_device=true", q)

	q = BuildQuery(nil, 1.0, false, false, false)
	assert.Equal(t, "amount_ratio=1.00", q)
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{name: "rest port mapped to grpc", url: "http://localhost:6333", wantHost: "localhost", wantPort: 6334},
		{name: "explicit grpc port", url: "http://localhost:6334", wantHost: "localhost", wantPort: 6334},
		{name: "https cloud", url: "https://xyz.cloud.qdrant.io:6333", wantHost: "xyz.cloud.qdrant.io", wantPort: 6334, wantTLS: true},
		{name: "no port", url: "http://qdrant", wantHost: "qdrant", wantPort: 6334},
		{name: "empty", url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantTLS, tls)
		})
	}
}
