package persistence

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("guidanced.persistence.chromem")

// Reserved chromem metadata keys. chromem metadata is flat strings, so the
// namespace and tags ride alongside user metadata.
const (
	metaNamespace = "_namespace"
	metaTags      = "_tags"
)

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string
	// Compress enables gzip compression of stored documents.
	Compress bool
	// CollectionPrefix is prepended to every collection name.
	CollectionPrefix string
	// Dimensions is the embedding length; Query needs it to build a probe.
	Dimensions int
}

// Chromem stores one chromem collection per namespace.
type Chromem struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromem opens (or creates) a persistent chromem database.
func NewChromem(cfg ChromemConfig, logger *zap.Logger) (*Chromem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: chromem path is required", ErrInvalidConfig)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "guidanced"
	}

	if err := os.MkdirAll(cfg.Path, 0700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem persistence initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("dimensions", cfg.Dimensions),
	)

	return &Chromem{db: db, config: cfg, logger: logger}, nil
}

// collectionName maps "patterns:short_term" to "<prefix>_patterns_short_term".
func (c *Chromem) collectionName(namespace string) string {
	return c.config.CollectionPrefix + "_" + strings.NewReplacer(":", "_", "/", "_").Replace(namespace)
}

// noEmbed rejects documents that arrive without a vector.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: embedding is required", ErrInvalidEntry)
}

// collections returns every collection owned by this prefix.
func (c *Chromem) collections() []*chromem.Collection {
	var out []*chromem.Collection
	for name := range c.db.ListCollections() {
		if !strings.HasPrefix(name, c.config.CollectionPrefix+"_") {
			continue
		}
		if col := c.db.GetCollection(name, noEmbed); col != nil {
			out = append(out, col)
		}
	}
	return out
}

func (c *Chromem) Ping(context.Context) error { return nil }

func (c *Chromem) Store(ctx context.Context, e Entry) error {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Store")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", e.Namespace))

	if err := validateEntry(e); err != nil {
		return err
	}
	if len(e.Embedding) == 0 {
		return fmt.Errorf("%w: embedding is required", ErrInvalidEntry)
	}

	col, err := c.db.GetOrCreateCollection(c.collectionName(e.Namespace), nil, noEmbed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting collection for %s: %w", e.Namespace, err)
	}

	if err := col.AddDocument(ctx, toChromemDoc(e)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding document %s: %w", e.Key, err)
	}
	return nil
}

func (c *Chromem) Query(ctx context.Context, namespace string, limit int) ([]Entry, error) {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	col := c.db.GetCollection(c.collectionName(namespace), noEmbed)
	if col == nil {
		return nil, nil
	}
	n := col.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}

	// chromem has no listing API; a uniform probe with nResults equal to the
	// collection size returns every document.
	probe := make([]float32, c.config.Dimensions)
	v := float32(1 / math.Sqrt(float64(c.config.Dimensions)))
	for i := range probe {
		probe[i] = v
	}

	results, err := col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}

	out := make([]Entry, len(results))
	for i, r := range results {
		out[i] = fromChromem(r.ID, r.Content, r.Embedding, r.Metadata, namespace)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func (c *Chromem) Update(ctx context.Context, key string, p Patch) error {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Update")
	defer span.End()

	for _, col := range c.collections() {
		doc, err := col.GetByID(ctx, key)
		if err != nil {
			continue
		}
		e := fromChromem(doc.ID, doc.Content, doc.Embedding, doc.Metadata, "")
		e = p.apply(e)

		if err := col.Delete(ctx, nil, nil, key); err != nil {
			span.RecordError(err)
			return fmt.Errorf("replacing document %s: %w", key, err)
		}
		if err := col.AddDocument(ctx, toChromemDoc(e)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("replacing document %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (c *Chromem) Delete(ctx context.Context, key string) error {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Delete")
	defer span.End()

	for _, col := range c.collections() {
		if _, err := col.GetByID(ctx, key); err != nil {
			continue
		}
		if err := col.Delete(ctx, nil, nil, key); err != nil {
			span.RecordError(err)
			c.logger.Error("failed to delete document",
				zap.String("collection", col.Name),
				zap.String("key", key),
				zap.Error(err),
			)
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

// Close is a no-op; chromem writes each document to disk on insert.
func (c *Chromem) Close() error { return nil }

func toChromemDoc(e Entry) chromem.Document {
	meta := make(map[string]string, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[metaNamespace] = e.Namespace
	if len(e.Tags) > 0 {
		meta[metaTags] = strings.Join(e.Tags, ",")
	}
	return chromem.Document{
		ID:        e.Key,
		Content:   e.Content,
		Metadata:  meta,
		Embedding: cloneVec(e.Embedding),
	}
}

func fromChromem(id, content string, embedding []float32, meta map[string]string, namespace string) Entry {
	e := Entry{
		Key:       id,
		Namespace: namespace,
		Content:   content,
		Embedding: cloneVec(embedding),
	}
	user := make(map[string]string, len(meta))
	for k, v := range meta {
		switch k {
		case metaNamespace:
			if e.Namespace == "" {
				e.Namespace = v
			}
		case metaTags:
			if v != "" {
				e.Tags = strings.Split(v, ",")
			}
		default:
			user[k] = v
		}
	}
	e.Metadata = user
	return e
}

var _ Delegate = (*Chromem)(nil)
