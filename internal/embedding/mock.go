package embedding

import (
	"context"
	"crypto/sha256"
)

// MockProvider generates deterministic embeddings from a SHA-256 digest of
// the input text. Identical text always maps to the identical vector, which
// keeps the whole pipeline reproducible without an external model.
type MockProvider struct {
	dims int
}

// NewMockProvider creates a deterministic provider with the given dimensions.
func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = 256
	}
	return &MockProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *MockProvider) Dimensions() int {
	return p.dims
}

// Embed maps text to a fixed vector by repeating its SHA-256 digest to fill
// the dimension and scaling each byte into [-1, 1].
func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, p.dims)
	for i := range vec {
		b := digest[i%len(digest)]
		vec[i] = float32(b)/127.5 - 1.0
	}
	return vec, nil
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}
