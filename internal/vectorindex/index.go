// Package vectorindex ranks stored vectors against a query by cosine
// similarity.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is one search result.
type Hit struct {
	ID         string
	Similarity float64
}

// Index is a similarity index over string ids.
type Index interface {
	// Upsert inserts or replaces the vector for id.
	Upsert(id string, vec []float32) error
	// Remove deletes id. Unknown ids are ignored.
	Remove(id string)
	// Search returns at most k hits ordered by descending similarity.
	Search(query []float32, k int) ([]Hit, error)
	// Len returns the number of indexed vectors.
	Len() int
}

// TieBreak reports whether a should rank before b when their similarities
// are equal.
type TieBreak func(a, b string) bool

// Cosine returns the cosine similarity of a and b, or 0 when either is the
// zero vector. Lengths must match.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Flat is an exact brute-force index. Search is O(N).
type Flat struct {
	mu       sync.RWMutex
	dim      int
	vectors  map[string][]float32
	tieBreak TieBreak
}

// Option configures a Flat index.
type Option func(*Flat)

// WithTieBreak orders equal-similarity hits. Without it ids sort ascending.
func WithTieBreak(tb TieBreak) Option {
	return func(f *Flat) { f.tieBreak = tb }
}

// NewFlat creates an index for vectors of length dim.
func NewFlat(dim int, opts ...Option) *Flat {
	f := &Flat{
		dim:     dim,
		vectors: make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Upsert implements Index. The vector is copied.
func (f *Flat) Upsert(id string, vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), f.dim)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)

	f.mu.Lock()
	f.vectors[id] = cp
	f.mu.Unlock()
	return nil
}

// Remove implements Index.
func (f *Flat) Remove(id string) {
	f.mu.Lock()
	delete(f.vectors, id)
	f.mu.Unlock()
}

// Len implements Index.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Search implements Index. A non-positive k returns no hits.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	hits := make([]Hit, 0, len(f.vectors))
	for id, vec := range f.vectors {
		hits = append(hits, Hit{ID: id, Similarity: Cosine(query, vec)})
	}
	f.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if f.tieBreak != nil {
			return f.tieBreak(hits[i].ID, hits[j].ID)
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

var _ Index = (*Flat)(nil)
