package guidance

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/events"
)

// promotable reports whether p qualifies for the long-term tier.
func (s *Store) promotable(p *Pattern) bool {
	return p.UsageCount >= s.cfg.PromotionThreshold && p.Quality >= s.cfg.QualityThreshold
}

// promote moves a short-term pattern to the long-term tier and returns the
// number of long-term patterns evicted to make room. Callers hold s.mu.
func (s *Store) promote(ctx context.Context, p *Pattern) int {
	delete(s.shortTerm, p.ID)
	s.longTerm[p.ID] = p

	s.persistDelete(ctx, p.ID)
	s.persistStore(ctx, p, TierLongTerm)

	s.counters.promotions.Add(1)
	s.metrics.Promotions.Inc()
	s.publish(ctx, events.ActionPromoted, p, TierLongTerm)
	s.logger.Info("pattern promoted",
		zap.String("pattern_id", p.ID),
		zap.Int("usage_count", p.UsageCount),
		zap.Float64("quality", p.Quality))

	return s.enforceCapacity(ctx, TierLongTerm, p.ID)
}

// remove deletes p from tier, the index and the delegate. Callers hold s.mu.
func (s *Store) remove(ctx context.Context, p *Pattern, tier Tier, action events.Action) {
	delete(s.tierMap(tier), p.ID)
	s.index.Remove(p.ID)
	s.persistDelete(ctx, p.ID)
	s.publish(ctx, action, p, tier)
}

// enforceCapacity evicts from tier until it fits its bound. The victim is
// the lowest quality pattern, then the least recently updated, then the
// smallest id. protect is never evicted. Callers hold s.mu.
func (s *Store) enforceCapacity(ctx context.Context, tier Tier, protect string) int {
	limit := s.cfg.MaxShortTerm
	if tier == TierLongTerm {
		limit = s.cfg.MaxLongTerm
	}

	m := s.tierMap(tier)
	evicted := 0
	for len(m) > limit {
		victim := evictionCandidate(m, protect)
		if victim == nil {
			break
		}
		s.remove(ctx, victim, tier, events.ActionEvicted)
		evicted++

		s.counters.evicted.Add(1)
		s.metrics.Evicted.WithLabelValues(string(tier)).Inc()
		s.logger.Info("pattern evicted",
			zap.String("pattern_id", victim.ID),
			zap.String("tier", string(tier)),
			zap.Float64("quality", victim.Quality))
	}
	return evicted
}

func evictionCandidate(m map[string]*Pattern, protect string) *Pattern {
	var victim *Pattern
	for id, p := range m {
		if id == protect {
			continue
		}
		if victim == nil || evictsBefore(p, victim) {
			victim = p
		}
	}
	return victim
}

func evictsBefore(a, b *Pattern) bool {
	if a.Quality != b.Quality {
		return a.Quality < b.Quality
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Consolidate promotes every qualifying short-term pattern, prunes stale
// short-term patterns used fewer than twice and enforces tier capacities.
// Long-term patterns are never pruned.
func (s *Store) Consolidate(ctx context.Context) (*ConsolidationResult, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "Store.Consolidate")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	res := &ConsolidationResult{}

	for _, id := range sortedIDs(s.shortTerm) {
		p := s.shortTerm[id]
		if s.promotable(p) {
			res.PatternsEvicted += s.promote(ctx, p)
			res.PatternsPromoted++
		}
	}

	now := s.now()
	for _, id := range sortedIDs(s.shortTerm) {
		p := s.shortTerm[id]
		if now.Sub(p.CreatedAt) > s.cfg.PruneMaxAge && p.UsageCount < 2 {
			s.remove(ctx, p, TierShortTerm, events.ActionPruned)
			res.PatternsPruned++
			s.counters.pruned.Add(1)
			s.metrics.Pruned.Inc()
		}
	}

	res.PatternsEvicted += s.enforceCapacity(ctx, TierShortTerm, "")
	res.PatternsEvicted += s.enforceCapacity(ctx, TierLongTerm, "")
	s.updateGauges()

	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("consolidate.promoted", res.PatternsPromoted),
		attribute.Int("consolidate.pruned", res.PatternsPruned),
		attribute.Int("consolidate.evicted", res.PatternsEvicted),
	)
	s.logger.Info("consolidation complete",
		zap.Int("promoted", res.PatternsPromoted),
		zap.Int("pruned", res.PatternsPruned),
		zap.Int("evicted", res.PatternsEvicted),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func sortedIDs(m map[string]*Pattern) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
