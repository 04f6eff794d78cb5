package guidance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/events"
	"github.com/fyrsmithlabs/guidanced/internal/persistence"
)

const testDim = 4

// mapEmbedder returns fixed vectors for known texts and fails for the rest,
// which sends unknown texts to the hash fallback.
type mapEmbedder struct {
	vecs map[string][]float32
}

func (m *mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v, ok := m.vecs[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

func (m *mapEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mapEmbedder) Dimension() int { return testDim }
func (m *mapEmbedder) Close() error   { return nil }

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequentialIDs returns p-0001, p-0002, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("p-%04d", n)
	}
}

type testEnv struct {
	store    *Store
	delegate *persistence.Memory
	events   *events.Recorder
	clock    *fakeClock
}

// newTestEnv builds an initialized store over a Memory delegate. A nil
// embedder uses the hash embedder at the default dimension.
func newTestEnv(t *testing.T, cfg Config, embedder *mapEmbedder, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		delegate: persistence.NewMemory(),
		events:   &events.Recorder{},
		clock:    newFakeClock(),
	}
	if embedder != nil {
		cfg.Dimensions = testDim
	}

	base := []Option{
		WithLogger(zap.NewNop()),
		WithPublisher(env.events),
		WithClock(env.clock.Now),
		WithIDGenerator(sequentialIDs()),
	}
	var (
		store *Store
		err   error
	)
	if embedder != nil {
		store, err = NewStore(cfg, embedder, env.delegate, append(base, opts...)...)
	} else {
		store, err = NewStore(cfg, nil, env.delegate, append(base, opts...)...)
	}
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	env.store = store
	return env
}

// unit returns v scaled to unit length.
func unit(v ...float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	n = math.Sqrt(n)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// tierOf returns the tier id lives in, failing the test when it is absent.
func tierOf(t *testing.T, s *Store, id string) Tier {
	t.Helper()
	_, tier, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return tier
}
