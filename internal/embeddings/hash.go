package embeddings

import (
	"context"
	"math"
)

// HashProvider derives embeddings from a rolling hash of the normalized
// text. It is deterministic, needs no model and never fails. Identical
// normalized texts produce identical vectors; unrelated texts land near
// cosine 0.67 since every component is non-negative.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash embedder producing vectors of dim
// components. A non-positive dim uses DefaultDimension.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashProvider{dimension: dim}
}

// Embed returns the unit vector for text.
func (p *HashProvider) Embed(text string) []float32 {
	data := []byte(NormalizeText(text))
	vec := make([]float32, p.dimension)
	for i := range vec {
		// FNV offset basis perturbed by the component index.
		h := uint32(2166136261) ^ (uint32(i+1) * 2654435761)
		for _, b := range data {
			h = h*31 + uint32(b)
		}
		vec[i] = float32((math.Sin(float64(h)) + 1) / 2)
	}
	return Normalize(vec)
}

// EmbedQuery implements Provider.
func (p *HashProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return p.Embed(text), nil
}

// EmbedDocuments implements Provider.
func (p *HashProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.Embed(t)
	}
	return out, nil
}

// Dimension implements Provider.
func (p *HashProvider) Dimension() int { return p.dimension }

// Close implements Provider.
func (p *HashProvider) Close() error { return nil }
