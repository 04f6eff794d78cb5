package embeddings

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds each primary provider call.
	DefaultTimeout = 10 * time.Second
	// DefaultCacheSize is the number of cached embeddings.
	DefaultCacheSize = 2048
)

// ResilientProvider never fails: primary errors, timeouts, dimension
// mismatches and zero or non-finite vectors fall back to a HashProvider of the same dimension. Every
// returned vector is unit length and cached by normalized text.
type ResilientProvider struct {
	primary  Provider
	fallback *HashProvider
	cache    *lru.Cache[string, []float32]
	timeout  time.Duration
	name     string
	logger   *zap.Logger
	metrics  *Metrics

	fallbackCount atomic.Int64
}

type resilientOptions struct {
	dimension int
	timeout   time.Duration
	cacheSize int
	name      string
	logger    *zap.Logger
	meter     metric.Meter
}

// ResilientOption configures a ResilientProvider.
type ResilientOption func(*resilientOptions)

// WithDimension forces the output dimension. Defaults to the primary's.
func WithDimension(dim int) ResilientOption {
	return func(o *resilientOptions) { o.dimension = dim }
}

// WithTimeout sets the per-call primary timeout.
func WithTimeout(d time.Duration) ResilientOption {
	return func(o *resilientOptions) { o.timeout = d }
}

// WithCacheSize sets the LRU capacity.
func WithCacheSize(n int) ResilientOption {
	return func(o *resilientOptions) { o.cacheSize = n }
}

// WithProviderName labels metrics and logs.
func WithProviderName(name string) ResilientOption {
	return func(o *resilientOptions) { o.name = name }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *zap.Logger) ResilientOption {
	return func(o *resilientOptions) { o.logger = l }
}

// WithMeter sets the meter for embedding metrics.
func WithMeter(m metric.Meter) ResilientOption {
	return func(o *resilientOptions) { o.meter = m }
}

// NewResilientProvider wraps primary. A nil primary yields a pure hash
// provider with caching.
func NewResilientProvider(primary Provider, opts ...ResilientOption) (*ResilientProvider, error) {
	o := resilientOptions{
		timeout:   DefaultTimeout,
		cacheSize: DefaultCacheSize,
		name:      "hash",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.dimension == 0 && primary != nil {
		o.dimension = primary.Dimension()
	}
	if o.dimension <= 0 {
		o.dimension = DefaultDimension
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, []float32](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d: %v", ErrInvalidConfig, o.cacheSize, err)
	}

	return &ResilientProvider{
		primary:  primary,
		fallback: NewHashProvider(o.dimension),
		cache:    cache,
		timeout:  o.timeout,
		name:     o.name,
		logger:   o.logger.Named("embeddings"),
		metrics:  NewMetrics(o.meter, o.logger),
	}, nil
}

// EmbedQuery returns a unit vector for text. The error is always nil.
func (p *ResilientProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := NormalizeText(text)
	if vec, ok := p.cache.Get(key); ok {
		p.metrics.RecordCacheHit(ctx)
		return clone(vec), nil
	}

	var vec []float32
	if p.primary != nil {
		vecs := p.callPrimary(ctx, "embed_query", func(ctx context.Context) ([][]float32, error) {
			v, err := p.primary.EmbedQuery(ctx, text)
			if err != nil {
				return nil, err
			}
			return [][]float32{v}, nil
		}, 1)
		if vecs != nil {
			vec = vecs[0]
		}
	}
	if vec == nil {
		vec = p.fallback.Embed(text)
	} else {
		vec = Normalize(vec)
	}

	p.cache.Add(key, vec)
	return clone(vec), nil
}

// EmbedDocuments embeds texts, sending only cache misses to the primary in
// one batch. The error is always nil.
func (p *ResilientProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		if vec, ok := p.cache.Get(NormalizeText(t)); ok {
			p.metrics.RecordCacheHit(ctx)
			out[i] = clone(vec)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	var batch [][]float32
	if p.primary != nil {
		batch = p.callPrimaryBatch(ctx, missTexts)
	}
	for j, i := range missIdx {
		var vec []float32
		if batch != nil {
			vec = Normalize(batch[j])
		} else {
			vec = p.fallback.Embed(missTexts[j])
		}
		p.cache.Add(NormalizeText(missTexts[j]), vec)
		out[i] = clone(vec)
	}
	return out, nil
}

func (p *ResilientProvider) callPrimaryBatch(ctx context.Context, texts []string) [][]float32 {
	return p.callPrimary(ctx, "embed_documents", func(ctx context.Context) ([][]float32, error) {
		return p.primary.EmbedDocuments(ctx, texts)
	}, len(texts))
}

type primaryResult struct {
	vecs [][]float32
	err  error
}

// callPrimary runs fn under the timeout. It returns nil after recording a
// fallback when fn fails, overruns the timeout or yields vectors of the
// wrong shape. fn runs on its own goroutine so that providers which ignore
// ctx cannot hold the caller past the deadline; a late result is dropped.
func (p *ResilientProvider) callPrimary(ctx context.Context, op string, fn func(context.Context) ([][]float32, error), want int) [][]float32 {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan primaryResult, 1)
	go func() {
		vecs, err := fn(callCtx)
		done <- primaryResult{vecs: vecs, err: err}
	}()

	var (
		vecs [][]float32
		err  error
	)
	select {
	case res := <-done:
		vecs, err = res.vecs, res.err
	case <-callCtx.Done():
		err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, callCtx.Err())
	}
	if err == nil {
		err = p.checkShape(vecs, want)
	}
	p.metrics.RecordGeneration(ctx, p.name, op, time.Since(start), err)

	if err != nil {
		p.fallbackCount.Add(int64(want))
		p.metrics.RecordFallback(ctx, want)
		p.logger.Warn("embedding provider failed, using hash fallback",
			zap.String("provider", p.name),
			zap.String("operation", op),
			zap.Int("texts", want),
			zap.Error(err))
		return nil
	}
	return vecs
}

func (p *ResilientProvider) checkShape(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors, want %d", ErrEmbeddingFailed, len(vecs), want)
	}
	dim := p.fallback.Dimension()
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: dimension %d, want %d", ErrEmbeddingFailed, len(v), dim)
		}
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
			return fmt.Errorf("%w: vector %d has norm^2 %v", ErrEmbeddingFailed, i, sum)
		}
	}
	return nil
}

// Fallbacks returns how many texts were embedded by the fallback.
func (p *ResilientProvider) Fallbacks() int64 {
	return p.fallbackCount.Load()
}

// Dimension returns the output dimension.
func (p *ResilientProvider) Dimension() int {
	return p.fallback.Dimension()
}

// Close closes the primary provider.
func (p *ResilientProvider) Close() error {
	if p.primary == nil {
		return nil
	}
	return p.primary.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
