package guidance

import (
	"time"

	"github.com/fyrsmithlabs/guidanced/internal/persistence"
)

// Quality bounds.
const (
	minQuality     = 0.3
	maxQuality     = 1.0
	initialQuality = 0.5
)

// Tier is the partition a pattern lives in.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Namespace returns the persistence namespace for the tier.
func (t Tier) Namespace() string {
	if t == TierLongTerm {
		return persistence.NamespaceLongTerm
	}
	return persistence.NamespaceShortTerm
}

// Pattern is one learned strategy.
type Pattern struct {
	ID           string            `json:"id"`
	Strategy     string            `json:"strategy"`
	Domain       string            `json:"domain,omitempty"`
	Embedding    []float32         `json:"embedding,omitempty"`
	Quality      float64           `json:"quality"`
	UsageCount   int               `json:"usage_count"`
	SuccessCount int               `json:"success_count"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SuccessRate returns SuccessCount/UsageCount, or 0 for an unused pattern.
func (p *Pattern) SuccessRate() float64 {
	if p.UsageCount <= 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.UsageCount)
}

func (p *Pattern) recomputeQuality() {
	p.Quality = computeQuality(p.SuccessCount, p.UsageCount)
}

func (p *Pattern) clone() Pattern {
	cp := *p
	if p.Embedding != nil {
		cp.Embedding = make([]float32, len(p.Embedding))
		copy(cp.Embedding, p.Embedding)
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// computeQuality maps a success ratio onto [0.3, 1.0]. An unused pattern
// keeps the initial quality.
func computeQuality(success, usage int) float64 {
	if usage <= 0 {
		return initialQuality
	}
	return clampQuality(minQuality + float64(success)/float64(usage)*0.7)
}

func clampQuality(q float64) float64 {
	if q < minQuality {
		return minQuality
	}
	if q > maxQuality {
		return maxQuality
	}
	return q
}

// Action reports what StorePattern did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// StoreResult is returned by StorePattern.
type StoreResult struct {
	ID     string `json:"id"`
	Action Action `json:"action"`
	Tier   Tier   `json:"tier"`
	// Similarity is the match similarity for an update, zero for a create.
	Similarity float64 `json:"similarity,omitempty"`
	Promoted   bool    `json:"promoted,omitempty"`
}

// Match is one search result.
type Match struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
	Tier       Tier    `json:"tier"`
}

// ConsolidationResult summarizes one Consolidate pass.
type ConsolidationResult struct {
	// DuplicatesRemoved is always zero: duplicates are merged inline by
	// StorePattern.
	DuplicatesRemoved int           `json:"duplicates_removed"`
	PatternsPruned    int           `json:"patterns_pruned"`
	PatternsPromoted  int           `json:"patterns_promoted"`
	PatternsEvicted   int           `json:"patterns_evicted"`
	Duration          time.Duration `json:"duration"`
}

// Export is a serializable snapshot of both tiers.
type Export struct {
	ShortTerm  []Pattern `json:"short_term"`
	LongTerm   []Pattern `json:"long_term"`
	ExportedAt time.Time `json:"exported_at"`
}
