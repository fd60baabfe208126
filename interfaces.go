package centinela

import "context"

// EmbeddingProvider generates embedding vectors for policy indexing and
// retrieval. Implementations replace the built-in providers via
// WithEmbeddingProvider.
type EmbeddingProvider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// SearchResult is one external threat-intel hit.
type SearchResult struct {
	URL     string
	Summary string
}

// SearchProvider performs the raw external threat-intel lookup. Results are
// still filtered through the configured domain allowlist before they reach
// the pipeline.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Reasoner is a chat model used by the debate stages. A reply should be a
// single JSON object; anything else makes the stage fall back to its
// deterministic argument.
type Reasoner interface {
	Chat(ctx context.Context, system, user string) (string, error)
}
