package guidance

import (
	"context"
	"time"
)

// Stats reports tier sizes and lifetime counters of one store.
type Stats struct {
	ShortTermCount int     `json:"short_term_count"`
	LongTermCount  int     `json:"long_term_count"`
	TotalPatterns  int     `json:"total_patterns"`
	AvgQuality     float64 `json:"avg_quality"`
	Degraded       bool    `json:"degraded"`

	PatternsCreated    int64         `json:"patterns_created"`
	PatternsUpdated    int64         `json:"patterns_updated"`
	Searches           int64         `json:"searches"`
	AvgSearchTime      time.Duration `json:"avg_search_time"`
	Outcomes           int64         `json:"outcomes"`
	Successes          int64         `json:"successes"`
	Promotions         int64         `json:"promotions"`
	Pruned             int64         `json:"pruned"`
	Evicted            int64         `json:"evicted"`
	PersistenceErrors  int64         `json:"persistence_errors"`
	GuidanceRequests   int64         `json:"guidance_requests"`
	Routes             int64         `json:"routes"`
	Redactions         int64         `json:"redactions"`
	EmbeddingFallbacks int64         `json:"embedding_fallbacks"`
}

// GetStats returns current counts and counters.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	st := &Stats{
		ShortTermCount: len(s.shortTerm),
		LongTermCount:  len(s.longTerm),
		Degraded:       s.degraded,
	}
	var sum float64
	for _, p := range s.shortTerm {
		sum += p.Quality
	}
	for _, p := range s.longTerm {
		sum += p.Quality
	}
	s.mu.RUnlock()

	st.TotalPatterns = st.ShortTermCount + st.LongTermCount
	if st.TotalPatterns > 0 {
		st.AvgQuality = sum / float64(st.TotalPatterns)
	}

	c := &s.counters
	st.PatternsCreated = c.created.Load()
	st.PatternsUpdated = c.updated.Load()
	st.Searches = c.searches.Load()
	if st.Searches > 0 {
		st.AvgSearchTime = time.Duration(c.searchNanos.Load() / st.Searches)
	}
	st.Outcomes = c.outcomes.Load()
	st.Successes = c.successes.Load()
	st.Promotions = c.promotions.Load()
	st.Pruned = c.pruned.Load()
	st.Evicted = c.evicted.Load()
	st.PersistenceErrors = c.persistenceErrors.Load()
	st.GuidanceRequests = c.guidanceRequests.Load()
	st.Routes = c.routes.Load()
	st.Redactions = c.redactions.Load()
	st.EmbeddingFallbacks = s.fallbacks()
	return st, nil
}
