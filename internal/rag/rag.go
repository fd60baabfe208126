// Package rag provides the policy vector index used for retrieval-augmented
// policy lookup. Two backends implement the same contract: an embedded SQLite
// index for local deployments and a Qdrant index for remote ones.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/centinela-ai/centinela/internal/embedding"
	"github.com/centinela-ai/centinela/internal/model"
)

// Document is one indexed policy fragment.
type Document struct {
	ID       string            // "<policy_id>:<version>:<chunk_id>"
	Content  string            // the rule text that gets embedded
	Metadata map[string]string // policy_id, chunk_id, version
}

// Hit is a retrieval result with its similarity score.
type Hit struct {
	Document Document
	Score    float32
}

// VectorIndex stores policy documents and retrieves the nearest ones by
// cosine similarity. Implementations must be safe for concurrent use and
// must persist across process restarts.
type VectorIndex interface {
	// Upsert inserts or replaces documents with their embedding vectors.
	// vectors[i] corresponds to docs[i].
	Upsert(ctx context.Context, docs []Document, vectors [][]float32) error

	// Query returns the topK most similar documents to the query vector,
	// ordered by descending similarity.
	Query(ctx context.Context, vector []float32, topK int) ([]Hit, error)

	// Clear removes every document from the index.
	Clear(ctx context.Context) error

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error

	Close() error
}

// Retriever couples an embedding provider with a vector index. It is the
// single entry point the pipeline and the ingester use for policy retrieval.
type Retriever struct {
	index    VectorIndex
	embedder embedding.Provider
}

// NewRetriever creates a retriever over the given index and embedder.
func NewRetriever(index VectorIndex, embedder embedding.Provider) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// IndexPolicies replaces the index contents with the given policies.
// Each policy becomes one document with id "<policy_id>:<version>:1".
func (r *Retriever) IndexPolicies(ctx context.Context, policies []model.FraudPolicy) error {
	if err := r.index.Clear(ctx); err != nil {
		return fmt.Errorf("rag: clear index: %w", err)
	}
	if len(policies) == 0 {
		return nil
	}

	docs := make([]Document, len(policies))
	texts := make([]string, len(policies))
	for i, p := range policies {
		docs[i] = Document{
			ID:      fmt.Sprintf("%s:%s:1", p.PolicyID, p.Version),
			Content: p.Rule,
			Metadata: map[string]string{
				"policy_id": p.PolicyID,
				"version":   p.Version,
				"chunk_id":  "1",
			},
		}
		texts[i] = p.Rule
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("rag: embed policies: %w", err)
	}
	if err := r.index.Upsert(ctx, docs, vectors); err != nil {
		return fmt.Errorf("rag: upsert policies: %w", err)
	}
	return nil
}

// Retrieve embeds the query text and returns the topK nearest policy
// fragments together with citations built from document metadata.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Hit, []model.CitationInternal, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("rag: embed query: %w", err)
	}
	hits, err := r.index.Query(ctx, vec, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("rag: query index: %w", err)
	}

	citations := make([]model.CitationInternal, 0, len(hits))
	for _, h := range hits {
		chunk := h.Document.Metadata["chunk_id"]
		if chunk == "" {
			chunk = "1"
		}
		citations = append(citations, model.CitationInternal{
			PolicyID: h.Document.Metadata["policy_id"],
			ChunkID:  chunk,
			Version:  h.Document.Metadata["version"],
		})
	}
	return hits, citations, nil
}

// BuildQuery joins the detected signals and metric tokens into the retrieval
// query string. The token order is fixed so the query is reproducible.
func BuildQuery(signals []string, amountRatio float64, hourOutside, newCountry, newDevice bool) string {
	parts := make([]string, 0, len(signals)+4)
	parts = append(parts, signals...)
	parts = append(parts, fmt.Sprintf("amount_ratio=%.2f", amountRatio))
	if hourOutside {
		parts = append(parts, "hour_outside=true")
	}
	if newCountry {
		parts = append(parts, "new_country=true")
	}
	if newDevice {
		parts = append(parts, "new_device=true")
	}
	return strings.Join(parts, "; ")
}

// sortHits orders hits by descending score, breaking ties by document ID so
// results are stable.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
}
