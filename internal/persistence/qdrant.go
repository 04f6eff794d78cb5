package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	qc "github.com/fyrsmithlabs/guidanced/internal/qdrant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var qdrantTracer = otel.Tracer("guidanced.persistence.qdrant")

// defaultScrollLimit caps Query when no limit is given.
const defaultScrollLimit = 10000

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	CollectionPrefix string
	Dimensions       int
}

// Qdrant stores one Qdrant collection per namespace.
type Qdrant struct {
	client qc.Client
	config QdrantConfig
	logger *zap.Logger

	mu         sync.Mutex
	namespaces map[string]bool // namespace -> collection known to exist
}

// NewQdrant wraps an established client.
func NewQdrant(client qc.Client, cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qdrant client is required", ErrInvalidConfig)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "guidanced"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Qdrant{
		client: client,
		config: cfg,
		logger: logger,
		namespaces: map[string]bool{
			NamespaceShortTerm: false,
			NamespaceLongTerm:  false,
		},
	}, nil
}

func (q *Qdrant) collectionName(namespace string) string {
	return q.config.CollectionPrefix + "_" + strings.NewReplacer(":", "_", "/", "_").Replace(namespace)
}

// pointID returns key when it is a UUID, else a stable name-based UUID.
// Qdrant only accepts UUID or integer ids.
func pointID(key string) string {
	if _, err := uuid.Parse(key); err == nil {
		return key
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// ensureCollection creates the namespace collection when create is true and
// it does not exist. It reports whether the collection exists afterwards.
func (q *Qdrant) ensureCollection(ctx context.Context, namespace string, create bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.namespaces[namespace] {
		return true, nil
	}
	name := q.collectionName(namespace)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists && create {
		if err := q.client.CreateCollection(ctx, name, uint64(q.config.Dimensions)); err != nil {
			return false, fmt.Errorf("creating collection %s: %w", name, err)
		}
		q.logger.Info("created qdrant collection", zap.String("collection", name))
		exists = true
	}
	if exists {
		q.namespaces[namespace] = true
	} else if _, ok := q.namespaces[namespace]; !ok {
		q.namespaces[namespace] = false
	}
	return exists, nil
}

func (q *Qdrant) knownNamespaces() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.namespaces))
	for ns := range q.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (q *Qdrant) Ping(ctx context.Context) error {
	return q.client.Health(ctx)
}

func (q *Qdrant) Store(ctx context.Context, e Entry) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Store")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", e.Namespace))

	if err := validateEntry(e); err != nil {
		return err
	}
	if len(e.Embedding) != q.config.Dimensions {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrInvalidEntry, len(e.Embedding), q.config.Dimensions)
	}
	if _, err := q.ensureCollection(ctx, e.Namespace, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := q.client.Upsert(ctx, q.collectionName(e.Namespace), []*qc.Point{toPoint(e)}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %s: %w", e.Key, err)
	}
	return nil
}

func (q *Qdrant) Query(ctx context.Context, namespace string, limit int) ([]Entry, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	exists, err := q.ensureCollection(ctx, namespace, false)
	if err != nil || !exists {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultScrollLimit
	}

	points, err := q.client.Scroll(ctx, q.collectionName(namespace), uint32(limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling %s: %w", namespace, err)
	}

	out := make([]Entry, 0, len(points))
	for _, p := range points {
		out = append(out, fromPoint(p, namespace))
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func (q *Qdrant) Update(ctx context.Context, key string, p Patch) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Update")
	defer span.End()

	id := pointID(key)
	for _, ns := range q.knownNamespaces() {
		exists, err := q.ensureCollection(ctx, ns, false)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		coll := q.collectionName(ns)
		points, err := q.client.Get(ctx, coll, []string{id})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("reading %s: %w", key, err)
		}
		if len(points) == 0 {
			continue
		}
		e := p.apply(fromPoint(points[0], ns))
		if err := q.client.Upsert(ctx, coll, []*qc.Point{toPoint(e)}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("updating %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (q *Qdrant) Delete(ctx context.Context, key string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Delete")
	defer span.End()

	id := pointID(key)
	for _, ns := range q.knownNamespaces() {
		exists, err := q.ensureCollection(ctx, ns, false)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := q.client.Delete(ctx, q.collectionName(ns), []string{id}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func toPoint(e Entry) *qc.Point {
	return &qc.Point{
		ID:     pointID(e.Key),
		Vector: cloneVec(e.Embedding),
		Payload: qc.Payload{
			Key:       e.Key,
			Namespace: e.Namespace,
			Content:   e.Content,
			Tags:      append([]string(nil), e.Tags...),
			Metadata:  cloneMap(e.Metadata),
		},
	}
}

func fromPoint(p *qc.Point, namespace string) Entry {
	e := Entry{
		Key:       p.ID,
		Namespace: namespace,
		Content:   p.Payload.Content,
		Embedding: cloneVec(p.Vector),
		Metadata:  cloneMap(p.Payload.Metadata),
	}
	if p.Payload.Key != "" {
		e.Key = p.Payload.Key
	}
	if len(p.Payload.Tags) > 0 {
		e.Tags = append([]string(nil), p.Payload.Tags...)
	}
	return e
}

var _ Delegate = (*Qdrant)(nil)
