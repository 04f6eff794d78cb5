package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Payload field names.
const (
	fieldKey       = "key"
	fieldNamespace = "namespace"
	fieldContent   = "content"
	fieldTags      = "tags"
	fieldMetadata  = "metadata"
)

// Config configures GRPCClient. Zero fields take defaults.
type Config struct {
	Host string
	// Port is the gRPC port (6334), not the REST port.
	Port   int
	UseTLS bool
	APIKey string

	MaxMessageSize int
	DialTimeout    time.Duration
	// RequestTimeout bounds each attempt, not the whole retried call.
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 << 20
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	return c
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must be >= 0")
	}
	return nil
}

// GRPCClient implements Client with the official Qdrant Go client. All
// collections use cosine distance.
type GRPCClient struct {
	client *qdrant.Client
	cfg    Config
	logger *zap.Logger
}

// NewGRPCClient dials Qdrant and fails unless a health check succeeds
// within DialTimeout.
func NewGRPCClient(cfg Config, logger *zap.Logger) (*GRPCClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("qdrant config: %w", err)
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
		),
	}
	if !cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		UseTLS:      cfg.UseTLS,
		APIKey:      cfg.APIKey,
		GrpcOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	c := &GRPCClient{client: client, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("connected to qdrant", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return c, nil
}

// Health checks the server once, without retries.
func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (c *GRPCClient) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	return c.do(ctx, "create_collection", func(ctx context.Context) error {
		return c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

func (c *GRPCClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.do(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = c.client.CollectionExists(ctx, name)
		return err
	})
	return exists, err
}

// Upsert waits for the write to be applied.
func (c *GRPCClient) Upsert(ctx context.Context, collection string, points []*Point) error {
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: encodePayload(p.Payload),
		}
	}
	return c.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		})
		return err
	})
}

func (c *GRPCClient) Get(ctx context.Context, collection string, ids []string) ([]*Point, error) {
	var got []*qdrant.RetrievedPoint
	err := c.do(ctx, "get", func(ctx context.Context) error {
		var err error
		got, err = c.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pointIDs(ids),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodePoints(got), nil
}

func (c *GRPCClient) Scroll(ctx context.Context, collection string, limit uint32) ([]*Point, error) {
	var got []*qdrant.RetrievedPoint
	err := c.do(ctx, "scroll", func(ctx context.Context) error {
		var err error
		got, err = c.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodePoints(got), nil
}

func (c *GRPCClient) Delete(ctx context.Context, collection string, ids []string) error {
	return c.do(ctx, "delete", func(ctx context.Context) error {
		_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(pointIDs(ids)...),
		})
		return err
	})
}

func (c *GRPCClient) Close() error {
	return c.client.Close()
}

// do runs fn with a per-attempt timeout, retrying retryable failures with
// doubling backoff until RetryAttempts is spent or ctx ends.
func (c *GRPCClient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := c.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= c.cfg.RetryAttempts {
			return fmt.Errorf("qdrant %s: %w", op, err)
		}

		c.logger.Debug("retrying qdrant call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("qdrant %s: %w", op, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
		backoff *= 2
	}
}

// retryable reports whether err is a gRPC status worth retrying.
func retryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok || st == nil {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDUUID(id)
	}
	return out
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func encodePayload(p Payload) map[string]*qdrant.Value {
	tags := make([]*qdrant.Value, len(p.Tags))
	for i, t := range p.Tags {
		tags[i] = stringValue(t)
	}
	meta := make(map[string]*qdrant.Value, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = stringValue(v)
	}
	return map[string]*qdrant.Value{
		fieldKey:       stringValue(p.Key),
		fieldNamespace: stringValue(p.Namespace),
		fieldContent:   stringValue(p.Content),
		fieldTags:      {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: tags}}},
		fieldMetadata:  {Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: meta}}},
	}
}

func decodePayload(m map[string]*qdrant.Value) Payload {
	p := Payload{
		Key:       m[fieldKey].GetStringValue(),
		Namespace: m[fieldNamespace].GetStringValue(),
		Content:   m[fieldContent].GetStringValue(),
	}
	for _, v := range m[fieldTags].GetListValue().GetValues() {
		p.Tags = append(p.Tags, v.GetStringValue())
	}
	if fields := m[fieldMetadata].GetStructValue().GetFields(); len(fields) > 0 {
		p.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			p.Metadata[k] = v.GetStringValue()
		}
	}
	return p
}

func decodePoints(in []*qdrant.RetrievedPoint) []*Point {
	out := make([]*Point, 0, len(in))
	for _, rp := range in {
		p := &Point{Payload: decodePayload(rp.GetPayload())}
		if id := rp.GetId(); id != nil {
			p.ID = id.GetUuid()
			if p.ID == "" && id.GetNum() != 0 {
				p.ID = strconv.FormatUint(id.GetNum(), 10)
			}
		}
		if dense := rp.GetVectors().GetVector().GetDense(); dense != nil {
			p.Vector = dense.GetData()
		}
		out = append(out, p)
	}
	return out
}

var _ Client = (*GRPCClient)(nil)
