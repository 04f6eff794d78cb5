package guidance

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/guidanced/internal/embeddings"
	"github.com/fyrsmithlabs/guidanced/internal/events"
	"github.com/fyrsmithlabs/guidanced/internal/logging"
	"github.com/fyrsmithlabs/guidanced/internal/persistence"
	"github.com/fyrsmithlabs/guidanced/internal/telemetry"
)

func TestNewStore_RejectsInvalidConfig(t *testing.T) {
	_, err := NewStore(Config{DedupThreshold: 1.5}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewStore_RejectsProviderDimensionMismatch(t *testing.T) {
	provider, err := embeddings.NewResilientProvider(nil, embeddings.WithDimension(8))
	require.NoError(t, err)

	_, err = NewStore(Config{Dimensions: 16}, provider, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStorePattern_Create(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "validate JWT token signature", "security", map[string]string{"agent": "security-architect"})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, TierShortTerm, res.Tier)

	p, tier, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, TierShortTerm, tier)
	assert.Equal(t, 1, p.UsageCount)
	assert.Equal(t, 0, p.SuccessCount)
	assert.InDelta(t, 0.5, p.Quality, 1e-9)
	assert.Equal(t, "security", p.Domain)
	assert.Equal(t, "security-architect", p.Metadata["agent"])
	assert.Len(t, p.Embedding, DefaultDimensions)
	assert.Equal(t, env.clock.Now(), p.CreatedAt)
}

func TestStorePattern_EmptyStrategy(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	for _, s := range []string{"", "   ", "\n\t"} {
		_, err := env.store.StorePattern(context.Background(), s, "testing", nil)
		assert.ErrorIs(t, err, ErrEmptyStrategy)
	}
	stats, err := env.store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPatterns)
}

func TestStorePattern_ExactDuplicateUpdates(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	first, err := env.store.StorePattern(ctx, "use table-driven tests", "testing", nil)
	require.NoError(t, err)
	second, err := env.store.StorePattern(ctx, "use table-driven tests", "testing", nil)
	require.NoError(t, err)

	assert.Equal(t, ActionUpdated, second.Action)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 1.0, second.Similarity, 1e-6)

	p, _, err := env.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.UsageCount)
	// Quality is recomputed from the success ratio on every mutation.
	assert.InDelta(t, 0.3, p.Quality, 1e-9)

	assert.Equal(t, []events.Action{events.ActionCreated, events.ActionUpdated}, env.events.Actions())
}

func TestStorePattern_NearDuplicate(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{
		"retry failed requests with backoff":  unit(1, 0, 0, 0),
		"retry failed requests using backoff": unit(0.97, 0.2431, 0, 0),
		"cache compiled templates":            unit(0, 0, 1, 0),
	}}
	env := newTestEnv(t, Config{}, emb)
	ctx := context.Background()

	first, err := env.store.StorePattern(ctx, "retry failed requests with backoff", "debugging", nil)
	require.NoError(t, err)

	second, err := env.store.StorePattern(ctx, "retry failed requests using backoff", "debugging", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, second.Action)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.97, second.Similarity, 1e-3)

	p, _, err := env.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.UsageCount)
	assert.Equal(t, "retry failed requests with backoff", p.Strategy)

	third, err := env.store.StorePattern(ctx, "cache compiled templates", "performance", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, third.Action)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStorePattern_MergesOnlyNewMetadataKeys(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "lint before commit", "", map[string]string{"agent": "coder"})
	require.NoError(t, err)
	_, err = env.store.StorePattern(ctx, "lint before commit", "", map[string]string{"agent": "reviewer", "lang": "go"})
	require.NoError(t, err)

	p, _, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"agent": "coder", "lang": "go"}, p.Metadata)
}

func TestStorePattern_ConcurrentDuplicatesShareOneID(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.store.StorePattern(ctx, "close response bodies", "debugging", nil)
			if assert.NoError(t, err) {
				ids[i] = res.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	p, _, err := env.store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, n, p.UsageCount)
}

func TestRecordOutcome_NotFound(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	err := env.store.RecordOutcome(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestApplyOutcome_ReturnsAppliedSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "pin the toolchain version in CI", "", nil)
	require.NoError(t, err)

	p, tier, err := env.store.ApplyOutcome(ctx, res.ID, true)
	require.NoError(t, err)
	assert.Equal(t, TierShortTerm, tier)
	assert.Equal(t, 2, p.UsageCount)

	// The promoting outcome reports the new tier.
	p, tier, err = env.store.ApplyOutcome(ctx, res.ID, true)
	require.NoError(t, err)
	assert.Equal(t, TierLongTerm, tier)
	assert.Equal(t, 3, p.UsageCount)
	assert.Equal(t, 2, p.SuccessCount)

	// Later writes do not reach the returned copy.
	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, false))
	assert.Equal(t, 3, p.UsageCount)

	_, _, err = env.store.ApplyOutcome(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestRecordOutcome_JWTScenario(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "validate JWT token signature", "security", nil)
	require.NoError(t, err)
	require.Equal(t, ActionCreated, res.Action)

	p, _, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.UsageCount)
	assert.InDelta(t, 0.5, p.Quality, 1e-9)

	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, true))
	assert.Equal(t, TierShortTerm, tierOf(t, env.store, res.ID), "usage 2 is below the promotion threshold")

	// usage 3, success 2: quality 0.3 + 2/3*0.7 qualifies.
	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, true))
	assert.Equal(t, TierLongTerm, tierOf(t, env.store, res.ID))

	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, true))
	p, tier, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, TierLongTerm, tier)
	assert.Equal(t, 4, p.UsageCount)
	assert.Equal(t, 3, p.SuccessCount)
	assert.InDelta(t, 0.825, p.Quality, 1e-9)

	exp, err := env.store.ExportPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, exp.ShortTerm)
	require.Len(t, exp.LongTerm, 1)
	assert.Equal(t, res.ID, exp.LongTerm[0].ID)

	stats, err := env.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Promotions)
	assert.Equal(t, int64(3), stats.Outcomes)
}

func TestRecordOutcome_PromotionPredicate(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "pin dependency versions", "architecture", nil)
	require.NoError(t, err)

	outcomes := []bool{false, false, false, true, true, true, true, true, true}
	usage, success := 1, 0
	promoted := false
	for i, ok := range outcomes {
		require.NoError(t, env.store.RecordOutcome(ctx, res.ID, ok))
		usage++
		if ok {
			success++
		}
		q := computeQuality(success, usage)
		if !promoted {
			promoted = usage >= DefaultPromotionThreshold && q >= DefaultQualityThreshold
		}

		p, tier, err := env.store.Get(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, usage, p.UsageCount, "step %d", i)
		assert.Equal(t, success, p.SuccessCount, "step %d", i)
		assert.LessOrEqual(t, p.SuccessCount, p.UsageCount)
		assert.GreaterOrEqual(t, p.Quality, 0.3)
		assert.LessOrEqual(t, p.Quality, 1.0)
		if promoted {
			assert.Equal(t, TierLongTerm, tier, "step %d", i)
		} else {
			assert.Equal(t, TierShortTerm, tier, "step %d", i)
		}
	}
	assert.True(t, promoted)
}

func TestComputeQuality(t *testing.T) {
	tests := []struct {
		success, usage int
		want           float64
	}{
		{0, 0, 0.5},
		{0, 1, 0.3},
		{1, 1, 1.0},
		{1, 2, 0.65},
		{3, 4, 0.825},
		{5, 4, 1.0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.success, tt.usage), func(t *testing.T) {
			assert.InDelta(t, tt.want, computeQuality(tt.success, tt.usage), 1e-9)
		})
	}
}

func TestSearchPatterns_OrderingAndLimit(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	for _, s := range []string{
		"validate JWT token signature",
		"rotate signing keys regularly",
		"use table-driven tests",
		"profile before optimizing",
		"keep interfaces small",
	} {
		_, err := env.store.StorePattern(ctx, s, "", nil)
		require.NoError(t, err)
	}

	matches, err := env.store.SearchPatterns(ctx, "JWT token signature", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
	}

	all, err := env.store.SearchPatterns(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Len(t, all, DefaultSearchK)
}

func TestSearchByVector_IdenticalVector(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "wrap errors with context", "debugging", nil)
	require.NoError(t, err)
	_, err = env.store.StorePattern(ctx, "prefer composition", "architecture", nil)
	require.NoError(t, err)

	p, _, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)

	matches, err := env.store.SearchByVector(ctx, p.Embedding, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.ID, matches[0].Pattern.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)

	_, err = env.store.SearchByVector(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearch_TieBreakPrefersRecentlyUpdated(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string][]float32{
		"older": unit(1, 0, 0, 0),
		"newer": unit(0, 1, 0, 0),
		"query": unit(1, 1, 0, 0),
	}}
	env := newTestEnv(t, Config{}, emb)
	ctx := context.Background()

	older, err := env.store.StorePattern(ctx, "older", "", nil)
	require.NoError(t, err)
	env.clock.Advance(1)
	newer, err := env.store.StorePattern(ctx, "newer", "", nil)
	require.NoError(t, err)

	matches, err := env.store.SearchPatterns(ctx, "query", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, newer.ID, matches[0].Pattern.ID)
	assert.Equal(t, older.ID, matches[1].Pattern.ID)
}

func TestSearch_ResultsAreCopies(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "document exported symbols", "", map[string]string{"k": "v"})
	require.NoError(t, err)

	matches, err := env.store.SearchPatterns(ctx, "document exported symbols", 1)
	require.NoError(t, err)
	matches[0].Pattern.Metadata["k"] = "changed"
	matches[0].Pattern.Embedding[0] = 42

	p, _, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", p.Metadata["k"])
	assert.NotEqual(t, float32(42), p.Embedding[0])
}

func TestPersistence_WriteThrough(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "validate JWT token signature", "security", map[string]string{"agent": "security-architect"})
	require.NoError(t, err)

	e, ok := env.delegate.Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, persistence.NamespaceShortTerm, e.Namespace)
	assert.Equal(t, "validate JWT token signature", e.Content)
	assert.Equal(t, []string{"security"}, e.Tags)
	assert.Equal(t, "1", e.Metadata[keyUsage])
	assert.Equal(t, "security-architect", e.Metadata[userMetaPrefix+"agent"])

	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, true))
	e, _ = env.delegate.Get(res.ID)
	assert.Equal(t, "2", e.Metadata[keyUsage])
	assert.Equal(t, "1", e.Metadata[keySuccess])

	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, true))
	e, _ = env.delegate.Get(res.ID)
	assert.Equal(t, persistence.NamespaceLongTerm, e.Namespace)
	assert.Equal(t, 1, env.delegate.Len())
}

func TestInitialize_HydratesFromDelegate(t *testing.T) {
	ctx := context.Background()
	delegate := persistence.NewMemory()
	clock := newFakeClock()

	first, err := NewStore(Config{}, nil, delegate, WithClock(clock.Now), WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	short, err := first.StorePattern(ctx, "short lived idea", "", map[string]string{"agent": "coder"})
	require.NoError(t, err)
	long, err := first.StorePattern(ctx, "proven approach", "architecture", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.RecordOutcome(ctx, long.ID, true))
	}
	// Close would close the shared delegate; Memory.Close is a no-op.
	require.NoError(t, first.Close())

	// An entry with the wrong dimension is skipped.
	require.NoError(t, delegate.Store(ctx, persistence.Entry{
		Key: "bad", Namespace: persistence.NamespaceShortTerm, Content: "x", Embedding: []float32{1, 2},
	}))

	second, err := NewStore(Config{}, nil, delegate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	p, tier, err := second.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, TierShortTerm, tier)
	assert.Equal(t, "coder", p.Metadata["agent"])
	assert.True(t, clock.Now().Equal(p.CreatedAt))

	p, tier, err = second.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, TierLongTerm, tier)
	assert.Equal(t, 4, p.UsageCount)
	assert.Equal(t, 3, p.SuccessCount)

	_, _, err = second.Get(ctx, "bad")
	assert.ErrorIs(t, err, ErrPatternNotFound)

	// Hydrated embeddings take part in dedup.
	again, err := second.StorePattern(ctx, "short lived idea", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, again.Action)
	assert.Equal(t, short.ID, again.ID)
}

func TestInitialize_DegradesWhenDelegateDown(t *testing.T) {
	ctx := context.Background()
	delegate := persistence.NewMemory()
	delegate.SetDown(true)
	logger := logging.NewTestLogger()

	store, err := NewStore(Config{}, nil, delegate, WithLogger(logger.Underlying()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Initialize(ctx), "initialize is idempotent")
	logger.AssertLogged(t, zapcore.WarnLevel, "persistence unavailable")

	res, err := store.StorePattern(ctx, "works without a backend", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	assert.Zero(t, stats.PersistenceErrors)
	assert.Equal(t, 1, stats.ShortTermCount)
}

func TestPersistenceErrors_DoNotRollBack(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	env.delegate.SetDown(true)

	res, err := env.store.StorePattern(ctx, "keep going on errors", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, false))

	p, _, err := env.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.UsageCount)

	stats, err := env.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PersistenceErrors)
	assert.False(t, stats.Degraded)
}

func TestStore_Spans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	env := newTestEnv(t, Config{}, nil, WithTracer(tt.Tracer("guidance-test")))
	ctx := context.Background()

	res, err := env.store.StorePattern(ctx, "trace every request", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, res.ID, true))
	_, err = env.store.SearchPatterns(ctx, "trace", 1)
	require.NoError(t, err)

	names := tt.SpanNames()
	assert.Contains(t, names, "Store.StorePattern")
	assert.Contains(t, names, "Store.RecordOutcome")
	assert.Contains(t, names, "Store.SearchPatterns")
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	a, err := env.store.StorePattern(ctx, "first strategy", "", nil)
	require.NoError(t, err)
	_, err = env.store.StorePattern(ctx, "second strategy", "", nil)
	require.NoError(t, err)
	_, err = env.store.StorePattern(ctx, "first strategy", "", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, a.ID, true))
	_, err = env.store.SearchPatterns(ctx, "strategy", 2)
	require.NoError(t, err)

	stats, err := env.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPatterns)
	assert.Equal(t, int64(2), stats.PatternsCreated)
	assert.Equal(t, int64(1), stats.PatternsUpdated)
	assert.Equal(t, int64(1), stats.Searches)
	assert.Equal(t, int64(1), stats.Outcomes)
	assert.Equal(t, int64(1), stats.Successes)
	// a: usage 3 success 1 -> 0.5333; b: 0.5.
	assert.InDelta(t, (0.3+0.7/3+0.5)/2, stats.AvgQuality, 1e-9)
}

func TestExportPatterns_SortedByCreation(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	var ids []string
	for _, s := range []string{"one", "two", "three"} {
		res, err := env.store.StorePattern(ctx, s, "", nil)
		require.NoError(t, err)
		ids = append(ids, res.ID)
		env.clock.Advance(1)
	}

	exp, err := env.store.ExportPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, exp.ShortTerm, 3)
	for i, p := range exp.ShortTerm {
		assert.Equal(t, ids[i], p.ID)
	}
	assert.Empty(t, exp.LongTerm)
	assert.Equal(t, env.clock.Now(), exp.ExportedAt)
}

func TestClose(t *testing.T) {
	store, err := NewStore(Config{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err = store.StorePattern(ctx, "after close", "", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Initialize(ctx), ErrClosed)
	_, err = store.SearchPatterns(ctx, "x", 1)
	assert.ErrorIs(t, err, ErrClosed)
}
