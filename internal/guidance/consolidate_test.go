package guidance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/guidanced/internal/events"
)

func TestConsolidate_PromotesQualifyingPatterns(t *testing.T) {
	// A promotion threshold of 1 lets a pattern qualify without an inline
	// mutation, so only Consolidate can promote it.
	env := newTestEnv(t, Config{PromotionThreshold: 1, QualityThreshold: 0.5}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "promote me", "", nil)
	require.NoError(t, err)
	assert.Equal(t, TierShortTerm, tierOf(t, env.store, res.ID))

	out, err := env.store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.PatternsPromoted)
	assert.Zero(t, out.DuplicatesRemoved)
	assert.Equal(t, TierLongTerm, tierOf(t, env.store, res.ID))

	// Long-term patterns are never promoted again.
	out, err = env.store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Zero(t, out.PatternsPromoted)

	exp, err := env.store.ExportPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, exp.ShortTerm)
	assert.Len(t, exp.LongTerm, 1)
}

func TestConsolidate_Pruning(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	stale, err := env.store.StorePattern(ctx, "stale single use", "", nil)
	require.NoError(t, err)
	used, err := env.store.StorePattern(ctx, "stale but reused", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, used.ID, false))

	env.clock.Advance(DefaultPruneMaxAge)
	boundary, err := env.store.StorePattern(ctx, "fresh pattern", "", nil)
	require.NoError(t, err)

	// stale and used are exactly PruneMaxAge old: not yet prunable.
	out, err := env.store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Zero(t, out.PatternsPruned)

	env.clock.Advance(time.Millisecond)
	out, err = env.store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.PatternsPruned)

	_, _, err = env.store.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrPatternNotFound)
	_, ok := env.delegate.Get(stale.ID)
	assert.False(t, ok)

	assert.Equal(t, TierShortTerm, tierOf(t, env.store, used.ID), "usage >= 2 is never pruned")
	assert.Equal(t, TierShortTerm, tierOf(t, env.store, boundary.ID), "young patterns are never pruned")
	assert.Contains(t, env.events.Actions(), events.ActionPruned)

	// Pruned patterns no longer match searches.
	matches, err := env.store.SearchPatterns(ctx, "stale single use", 3)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, stale.ID, m.Pattern.ID)
	}
}

func TestConsolidate_NeverPrunesLongTerm(t *testing.T) {
	env := newTestEnv(t, Config{PromotionThreshold: 1, QualityThreshold: 0.5}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "durable knowledge", "", nil)
	require.NoError(t, err)
	_, err = env.store.Consolidate(ctx)
	require.NoError(t, err)

	env.clock.Advance(30 * 24 * time.Hour)
	out, err := env.store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Zero(t, out.PatternsPruned)
	assert.Equal(t, TierLongTerm, tierOf(t, env.store, res.ID))
}

func TestCapacity_ShortTermEvictsLowestQuality(t *testing.T) {
	env := newTestEnv(t, Config{MaxShortTerm: 2}, nil)
	ctx := context.Background()

	weak, err := env.store.StorePattern(ctx, "weak pattern", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, weak.ID, false)) // quality 0.3

	env.clock.Advance(time.Second)
	strong, err := env.store.StorePattern(ctx, "strong pattern", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, strong.ID, true)) // quality 0.65

	env.clock.Advance(time.Second)
	newest, err := env.store.StorePattern(ctx, "newest pattern", "", nil)
	require.NoError(t, err)

	_, _, err = env.store.Get(ctx, weak.ID)
	assert.ErrorIs(t, err, ErrPatternNotFound)
	assert.Equal(t, TierShortTerm, tierOf(t, env.store, strong.ID))
	assert.Equal(t, TierShortTerm, tierOf(t, env.store, newest.ID))

	stats, err := env.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Evicted)
	assert.Equal(t, 2, stats.ShortTermCount)
	assert.Contains(t, env.events.Actions(), events.ActionEvicted)
}

func TestCapacity_NewInsertIsProtected(t *testing.T) {
	env := newTestEnv(t, Config{MaxShortTerm: 1}, nil)
	ctx := context.Background()

	old, err := env.store.StorePattern(ctx, "old pattern", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, old.ID, true)) // quality 0.65

	// The new pattern has lower quality but is never its own victim.
	fresh, err := env.store.StorePattern(ctx, "fresh pattern", "", nil)
	require.NoError(t, err)

	_, _, err = env.store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrPatternNotFound)
	assert.Equal(t, TierShortTerm, tierOf(t, env.store, fresh.ID))
}

func TestCapacity_LongTermEvictsOnPromotion(t *testing.T) {
	env := newTestEnv(t, Config{MaxLongTerm: 1, PromotionThreshold: 1, QualityThreshold: 0.5}, nil)
	ctx := context.Background()

	first, err := env.store.StorePattern(ctx, "first proven", "", nil)
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	second, err := env.store.StorePattern(ctx, "second proven", "", nil)
	require.NoError(t, err)

	out, err := env.store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out.PatternsPromoted)
	assert.Equal(t, 1, out.PatternsEvicted)

	// Both have quality 0.5; the later promotion is protected.
	_, _, err = env.store.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrPatternNotFound)
	assert.Equal(t, TierLongTerm, tierOf(t, env.store, second.ID))
}

func TestEvictsBefore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	low := &Pattern{ID: "b", Quality: 0.3, UpdatedAt: base}
	high := &Pattern{ID: "a", Quality: 0.9, UpdatedAt: base}
	older := &Pattern{ID: "c", Quality: 0.3, UpdatedAt: base.Add(-time.Hour)}
	sameButLaterID := &Pattern{ID: "z", Quality: 0.3, UpdatedAt: base}

	assert.True(t, evictsBefore(low, high))
	assert.True(t, evictsBefore(older, low))
	assert.True(t, evictsBefore(low, sameButLaterID))
	assert.False(t, evictsBefore(high, low))
}
