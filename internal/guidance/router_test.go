package guidance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestAgent(t *testing.T) {
	tests := []struct {
		name       string
		task       string
		agent      string
		confidence int
	}{
		{"no keywords", "fix bug in login", "coder", 70},
		{"security capped bonus", "add JWT auth token validation", "security-architect", 98},
		{"testing", "write unit tests with mocks", "test-architect", 98},
		{"single keyword", "set up a swarm", "swarm-specialist", 90},
		{"higher score wins", "review PR for memory leak", "reviewer", 95},
		{"tie keeps earlier rule", "cache embedding", "performance-engineer", 90},
		{"later rule with more hits wins", "optimize the vector store", "memory-specialist", 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestAgent(tt.task)
			assert.Equal(t, tt.agent, got.Agent)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.NotEmpty(t, got.Reasoning)
		})
	}
}

func TestAlternatives(t *testing.T) {
	got := alternatives("cache embedding", "performance-engineer")
	assert.Equal(t, []AlternativeAgent{
		{Agent: "memory-specialist", Confidence: 85},
		{Agent: "security-architect", Confidence: 60},
		{Agent: "test-architect", Confidence: 60},
	}, got)

	for _, alt := range alternatives("plain task", DefaultAgent) {
		assert.NotEqual(t, DefaultAgent, alt.Agent)
	}
}

func TestRouteTask_AggregatesAgentPerformance(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	p1, err := env.store.StorePattern(ctx, "check token audience", "security", map[string]string{AgentMetadataKey: "security-architect"})
	require.NoError(t, err)
	require.NoError(t, env.store.RecordOutcome(ctx, p1.ID, true)) // rate 0.5, quality 0.65
	_, err = env.store.StorePattern(ctx, "hash passwords with argon2", "security", map[string]string{AgentMetadataKey: "security-architect"})
	require.NoError(t, err) // rate 0, quality 0.5
	_, err = env.store.StorePattern(ctx, "rename variables for clarity", "", nil)
	require.NoError(t, err)

	res, err := env.store.RouteTask(ctx, "add JWT auth token validation")
	require.NoError(t, err)

	assert.Equal(t, "security-architect", res.Suggestion.Agent)
	assert.Len(t, res.Patterns, 3)
	require.NotNil(t, res.Performance)
	assert.Equal(t, 2, res.Performance.TaskCount)
	assert.InDelta(t, 0.25, res.Performance.SuccessRate, 1e-9)
	assert.InDelta(t, 0.575, res.Performance.AvgQuality, 1e-9)

	require.Len(t, res.Alternatives, 3)
	for _, alt := range res.Alternatives {
		assert.NotEqual(t, "security-architect", alt.Agent)
	}

	stats, err := env.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Routes)
}

func TestRouteTask_NoHistory(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	res, err := env.store.RouteTask(context.Background(), "write unit tests")
	require.NoError(t, err)
	assert.Equal(t, "test-architect", res.Suggestion.Agent)
	assert.Nil(t, res.Performance)
	assert.Empty(t, res.Patterns)
}

func TestAggregatePerformance_DefaultsToCoder(t *testing.T) {
	perf := aggregatePerformance([]Match{
		{Pattern: Pattern{UsageCount: 2, SuccessCount: 2, Quality: 1.0}},
		{Pattern: Pattern{UsageCount: 4, SuccessCount: 1, Quality: 0.475, Metadata: map[string]string{"agent": "reviewer"}}},
	})
	require.Contains(t, perf, DefaultAgent)
	assert.Equal(t, 1, perf[DefaultAgent].TaskCount)
	assert.InDelta(t, 1.0, perf[DefaultAgent].SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, perf["reviewer"].SuccessRate, 1e-9)
}
