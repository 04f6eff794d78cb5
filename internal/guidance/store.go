package guidance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/embeddings"
	"github.com/fyrsmithlabs/guidanced/internal/events"
	"github.com/fyrsmithlabs/guidanced/internal/persistence"
	"github.com/fyrsmithlabs/guidanced/internal/secrets"
	"github.com/fyrsmithlabs/guidanced/internal/vectorindex"
)

const tracerName = "github.com/fyrsmithlabs/guidanced/internal/guidance"

// Store is the two-tier pattern store. It is safe for concurrent use.
//
// Mutations hold the write lock for the whole read-modify-write, including
// delegate calls. Embedding happens before the lock is taken.
type Store struct {
	cfg       Config
	embedder  embeddings.Provider
	fallbacks func() int64
	backend   persistence.Delegate
	publisher events.Publisher
	redactor  *secrets.Redactor
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	now       func() time.Time
	newID     func() string

	mu        sync.RWMutex
	delegate  persistence.Delegate
	shortTerm map[string]*Pattern
	longTerm  map[string]*Pattern
	index     *vectorindex.Flat
	degraded  bool

	initialized atomic.Bool
	closed      atomic.Bool
	counters    counters
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithRedactor scrubs credentials from strategies and metadata values
// before they are embedded or stored. Without one, text is kept verbatim.
func WithRedactor(r *secrets.Redactor) Option {
	return func(s *Store) {
		s.redactor = r
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source for timestamps and pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides pattern id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore creates a store. The store takes ownership of provider,
// delegate and any publisher; Close releases them.
//
// A provider that is not already an *embeddings.ResilientProvider is
// wrapped in one so that embedding never fails. A nil provider means the
// deterministic hash embedder; a nil delegate means no persistence.
func NewStore(cfg Config, provider embeddings.Provider, delegate persistence.Delegate, opts ...Option) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:       cfg,
		publisher: events.Noop{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		metrics:   NewMetrics(),
		now:       time.Now,
		newID:     uuid.NewString,
		shortTerm: make(map[string]*Pattern),
		longTerm:  make(map[string]*Pattern),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("guidance")

	resilient, ok := provider.(*embeddings.ResilientProvider)
	if !ok {
		var err error
		resilient, err = embeddings.NewResilientProvider(provider,
			embeddings.WithDimension(cfg.Dimensions),
			embeddings.WithTimeout(cfg.EmbedTimeout),
			embeddings.WithLogger(s.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}
	if resilient.Dimension() != cfg.Dimensions {
		return nil, fmt.Errorf("%w: embedding dimension %d, store dimension %d",
			ErrInvalidConfig, resilient.Dimension(), cfg.Dimensions)
	}
	s.embedder = resilient
	s.fallbacks = resilient.Fallbacks

	if delegate == nil {
		delegate = persistence.Noop{}
	}
	s.backend = delegate
	s.delegate = delegate

	s.index = vectorindex.NewFlat(cfg.Dimensions, vectorindex.WithTieBreak(s.tieBreak))
	return s, nil
}

// tieBreak orders equal-similarity hits by UpdatedAt descending, then id.
// Callers hold s.mu.
func (s *Store) tieBreak(a, b string) bool {
	pa, _, okA := s.lookup(a)
	pb, _, okB := s.lookup(b)
	if okA && okB && !pa.UpdatedAt.Equal(pb.UpdatedAt) {
		return pa.UpdatedAt.After(pb.UpdatedAt)
	}
	return a < b
}

// Config returns the effective store policy.
func (s *Store) Config() Config { return s.cfg }

// Initialize hydrates both tiers from the delegate. It is idempotent and
// called lazily by every operation. An unreachable delegate switches the
// store to in-memory-only mode with a warning; it is not an error.
func (s *Store) Initialize(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.initialized.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized.Load() {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "Store.Initialize")
	defer span.End()

	if err := s.delegate.Ping(ctx); err != nil {
		s.degrade("ping", err)
	} else if err := s.hydrate(ctx); err != nil {
		s.degrade("hydrate", err)
	}

	span.SetAttributes(
		attribute.Int("patterns.short_term", len(s.shortTerm)),
		attribute.Int("patterns.long_term", len(s.longTerm)),
		attribute.Bool("store.degraded", s.degraded),
	)
	s.updateGauges()
	s.initialized.Store(true)

	s.logger.Info("pattern store initialized",
		zap.Int("short_term", len(s.shortTerm)),
		zap.Int("long_term", len(s.longTerm)),
		zap.Bool("degraded", s.degraded),
	)
	return nil
}

// degrade drops the delegate for the rest of the process lifetime.
func (s *Store) degrade(op string, err error) {
	s.logger.Warn("persistence unavailable, continuing in memory only",
		zap.String("op", op), zap.Error(err))
	s.delegate = persistence.Noop{}
	s.degraded = true
	s.shortTerm = make(map[string]*Pattern)
	s.longTerm = make(map[string]*Pattern)
	s.index = vectorindex.NewFlat(s.cfg.Dimensions, vectorindex.WithTieBreak(s.tieBreak))
}

// hydrate loads long-term first so that it wins when a key appears in both
// namespaces.
func (s *Store) hydrate(ctx context.Context) error {
	tiers := []struct {
		tier  Tier
		limit int
		into  map[string]*Pattern
	}{
		{TierLongTerm, s.cfg.MaxLongTerm, s.longTerm},
		{TierShortTerm, s.cfg.MaxShortTerm, s.shortTerm},
	}

	for _, t := range tiers {
		entries, err := s.delegate.Query(ctx, t.tier.Namespace(), t.limit)
		if err != nil {
			return fmt.Errorf("query %s: %w", t.tier.Namespace(), err)
		}
		for _, e := range entries {
			p, err := decodeEntry(e)
			if err != nil {
				s.logger.Warn("skipping undecodable entry", zap.String("key", e.Key), zap.Error(err))
				continue
			}
			if len(p.Embedding) != s.cfg.Dimensions {
				s.logger.Warn("skipping entry with wrong dimension",
					zap.String("key", e.Key),
					zap.Int("dimension", len(p.Embedding)),
					zap.Int("expected", s.cfg.Dimensions))
				continue
			}
			if _, _, exists := s.lookup(p.ID); exists {
				continue
			}
			if err := s.index.Upsert(p.ID, p.Embedding); err != nil {
				continue
			}
			t.into[p.ID] = p
		}
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.Initialize(ctx)
}

// embed returns a unit vector for text. It runs without the store lock.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) != s.cfg.Dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d",
			ErrDimensionMismatch, len(vec), s.cfg.Dimensions)
	}
	return vec, nil
}

// lookup finds id in either tier. Callers hold s.mu.
func (s *Store) lookup(id string) (*Pattern, Tier, bool) {
	if p, ok := s.shortTerm[id]; ok {
		return p, TierShortTerm, true
	}
	if p, ok := s.longTerm[id]; ok {
		return p, TierLongTerm, true
	}
	return nil, "", false
}

func (s *Store) tierMap(t Tier) map[string]*Pattern {
	if t == TierLongTerm {
		return s.longTerm
	}
	return s.shortTerm
}

// StorePattern records strategy. A strategy whose embedding is within the
// dedup threshold of an existing pattern updates that pattern; otherwise a
// new short-term pattern is created.
func (s *Store) StorePattern(ctx context.Context, strategy, domain string, metadata map[string]string) (*StoreResult, error) {
	if strings.TrimSpace(strategy) == "" {
		return nil, ErrEmptyStrategy
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "Store.StorePattern",
		trace.WithAttributes(attribute.String("pattern.domain", domain)))
	defer span.End()

	strategy, metadata, redacted := s.redact(strategy, metadata)
	if redacted > 0 {
		span.SetAttributes(attribute.Int("pattern.redactions", redacted))
	}

	vec, err := s.embed(ctx, strategy)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	hits, err := s.index.Search(vec, 1)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("dedup search: %w", err)
	}

	if len(hits) > 0 && hits[0].Similarity >= s.cfg.DedupThreshold {
		if p, tier, ok := s.lookup(hits[0].ID); ok {
			res := s.mergeDuplicate(ctx, p, tier, metadata)
			res.Similarity = hits[0].Similarity
			span.SetAttributes(
				attribute.String("pattern.id", res.ID),
				attribute.String("pattern.action", string(res.Action)),
				attribute.Float64("pattern.similarity", res.Similarity),
			)
			return res, nil
		}
	}

	now := s.now()
	p := &Pattern{
		ID:         s.newID(),
		Strategy:   strategy,
		Domain:     domain,
		Embedding:  vec,
		Quality:    initialQuality,
		UsageCount: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   copyMetadata(metadata),
	}
	if err := s.index.Upsert(p.ID, p.Embedding); err != nil {
		return nil, fmt.Errorf("indexing pattern: %w", err)
	}
	s.shortTerm[p.ID] = p

	s.persistStore(ctx, p, TierShortTerm)
	s.publish(ctx, events.ActionCreated, p, TierShortTerm)
	s.counters.created.Add(1)
	s.metrics.PatternsStored.WithLabelValues(string(ActionCreated)).Inc()

	s.enforceCapacity(ctx, TierShortTerm, p.ID)
	s.updateGauges()

	span.SetAttributes(
		attribute.String("pattern.id", p.ID),
		attribute.String("pattern.action", string(ActionCreated)),
	)
	s.logger.Debug("pattern created", zap.String("pattern_id", p.ID), zap.String("domain", domain))

	return &StoreResult{ID: p.ID, Action: ActionCreated, Tier: TierShortTerm}, nil
}

// redact scrubs strategy and a copy of metadata. The caller's map is never
// modified.
func (s *Store) redact(strategy string, metadata map[string]string) (string, map[string]string, int) {
	if s.redactor == nil {
		return strategy, metadata, 0
	}
	out, findings := s.redactor.Redact(strategy)
	n := secrets.Spans(findings)
	if len(metadata) > 0 {
		metadata = copyMetadata(metadata)
		n += s.redactor.RedactMetadata(metadata)
	}
	if n > 0 {
		s.counters.redactions.Add(int64(n))
		s.metrics.Redactions.Add(float64(n))
		s.logger.Info("redacted credentials from pattern",
			zap.Int("spans", n),
			zap.Strings("rules", secrets.RuleIDs(findings)))
	}
	return out, metadata, n
}

// mergeDuplicate folds a restated strategy into p. Callers hold s.mu.
func (s *Store) mergeDuplicate(ctx context.Context, p *Pattern, tier Tier, metadata map[string]string) *StoreResult {
	p.UsageCount++
	p.recomputeQuality()
	p.UpdatedAt = s.now()
	for k, v := range metadata {
		if _, exists := p.Metadata[k]; exists {
			continue
		}
		if p.Metadata == nil {
			p.Metadata = make(map[string]string)
		}
		p.Metadata[k] = v
	}

	s.persistUpdate(ctx, p)
	s.publish(ctx, events.ActionUpdated, p, tier)
	s.counters.updated.Add(1)
	s.metrics.PatternsStored.WithLabelValues(string(ActionUpdated)).Inc()

	res := &StoreResult{ID: p.ID, Action: ActionUpdated, Tier: tier}
	if tier == TierShortTerm && s.promotable(p) {
		s.promote(ctx, p)
		res.Tier = TierLongTerm
		res.Promoted = true
	}
	s.updateGauges()

	s.logger.Debug("pattern updated",
		zap.String("pattern_id", p.ID),
		zap.Int("usage_count", p.UsageCount),
		zap.Float64("quality", p.Quality))
	return res
}

// RecordOutcome records one use of pattern id and whether it succeeded.
func (s *Store) RecordOutcome(ctx context.Context, id string, success bool) error {
	_, _, err := s.ApplyOutcome(ctx, id, success)
	return err
}

// ApplyOutcome is RecordOutcome returning a copy of the pattern and its tier
// as they were when the outcome was applied, including any promotion.
func (s *Store) ApplyOutcome(ctx context.Context, id string, success bool) (*Pattern, Tier, error) {
	if err := s.ready(ctx); err != nil {
		return nil, "", err
	}

	ctx, span := s.tracer.Start(ctx, "Store.RecordOutcome", trace.WithAttributes(
		attribute.String("pattern.id", id),
		attribute.Bool("outcome.success", success),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, "", ErrClosed
	}

	p, tier, ok := s.lookup(id)
	if !ok {
		span.SetStatus(codes.Error, "pattern not found")
		return nil, "", fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}

	p.UsageCount++
	if success {
		p.SuccessCount++
	}
	p.recomputeQuality()
	p.UpdatedAt = s.now()

	s.persistUpdate(ctx, p)
	s.publish(ctx, events.ActionUpdated, p, tier)

	s.counters.outcomes.Add(1)
	result := "failure"
	if success {
		s.counters.successes.Add(1)
		result = "success"
	}
	s.metrics.Outcomes.WithLabelValues(result).Inc()

	if tier == TierShortTerm && s.promotable(p) {
		s.promote(ctx, p)
		tier = TierLongTerm
		span.SetAttributes(attribute.Bool("pattern.promoted", true))
	}
	s.updateGauges()

	cp := p.clone()
	return &cp, tier, nil
}

// SearchPatterns embeds query and returns the k most similar patterns
// across both tiers. k <= 0 means the configured SearchK.
func (s *Store) SearchPatterns(ctx context.Context, query string, k int) ([]Match, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "Store.SearchPatterns")
	defer span.End()

	vec, err := s.embed(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	matches, err := s.search(vec, k)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(matches)))
	return matches, nil
}

// SearchByVector returns the k patterns most similar to vec.
func (s *Store) SearchByVector(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	_, span := s.tracer.Start(ctx, "Store.SearchByVector")
	defer span.End()

	if len(vec) != s.cfg.Dimensions {
		err := fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(vec), s.cfg.Dimensions)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.search(vec, k)
}

func (s *Store) search(vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = s.cfg.SearchK
	}
	start := time.Now()

	s.mu.RLock()
	hits, err := s.index.Search(vec, k)
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("search: %w", err)
	}
	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		p, tier, ok := s.lookup(h.ID)
		if !ok {
			continue
		}
		matches = append(matches, Match{Pattern: p.clone(), Similarity: h.Similarity, Tier: tier})
	}
	s.mu.RUnlock()

	elapsed := time.Since(start)
	s.counters.searches.Add(1)
	s.counters.searchNanos.Add(int64(elapsed))
	s.metrics.Searches.Inc()
	s.metrics.SearchDuration.Observe(elapsed.Seconds())
	return matches, nil
}

// Get returns a copy of pattern id and its tier.
func (s *Store) Get(ctx context.Context, id string) (*Pattern, Tier, error) {
	if err := s.ready(ctx); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, tier, ok := s.lookup(id)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	cp := p.clone()
	return &cp, tier, nil
}

// ExportPatterns returns a snapshot of both tiers ordered by creation time.
func (s *Store) ExportPatterns(ctx context.Context) (*Export, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Export{
		ShortTerm:  snapshot(s.shortTerm),
		LongTerm:   snapshot(s.longTerm),
		ExportedAt: s.now().UTC(),
	}, nil
}

func snapshot(m map[string]*Pattern) []Pattern {
	out := make([]Pattern, 0, len(m))
	for _, p := range m {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close releases the publisher, embedder and persistence backend.
// Subsequent operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}

	var firstErr error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		s.logger.Warn("close failed", zap.String("component", what), zap.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", what, err)
		}
	}
	record("publisher", s.publisher.Close())
	record("embedder", s.embedder.Close())
	record("persistence", s.backend.Close())
	return firstErr
}

func (s *Store) persistStore(ctx context.Context, p *Pattern, tier Tier) {
	if err := s.delegate.Store(ctx, encodeEntry(p, tier)); err != nil {
		s.persistenceFailed(ctx, "store", p.ID, err)
	}
}

func (s *Store) persistUpdate(ctx context.Context, p *Pattern) {
	if err := s.delegate.Update(ctx, p.ID, encodePatch(p)); err != nil {
		s.persistenceFailed(ctx, "update", p.ID, err)
	}
}

func (s *Store) persistDelete(ctx context.Context, id string) {
	if err := s.delegate.Delete(ctx, id); err != nil {
		s.persistenceFailed(ctx, "delete", id, err)
	}
}

// persistenceFailed logs and counts a delegate error. Memory is never
// rolled back.
func (s *Store) persistenceFailed(ctx context.Context, op, id string, err error) {
	s.counters.persistenceErrors.Add(1)
	s.metrics.PersistenceErrors.WithLabelValues(op).Inc()
	trace.SpanFromContext(ctx).RecordError(err)
	s.logger.Warn("persistence operation failed",
		zap.String("op", op), zap.String("pattern_id", id), zap.Error(err))
}

func (s *Store) publish(ctx context.Context, action events.Action, p *Pattern, tier Tier) {
	err := s.publisher.Publish(ctx, events.Event{
		Action:       action,
		PatternID:    p.ID,
		Tier:         string(tier),
		Domain:       p.Domain,
		Quality:      p.Quality,
		UsageCount:   p.UsageCount,
		SuccessCount: p.SuccessCount,
		Timestamp:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publishing pattern event failed",
			zap.String("action", string(action)), zap.String("pattern_id", p.ID), zap.Error(err))
	}
}

// updateGauges mirrors tier sizes to Prometheus. Callers hold s.mu.
func (s *Store) updateGauges() {
	s.metrics.Patterns.WithLabelValues(string(TierShortTerm)).Set(float64(len(s.shortTerm)))
	s.metrics.Patterns.WithLabelValues(string(TierLongTerm)).Set(float64(len(s.longTerm)))
}

func copyMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
