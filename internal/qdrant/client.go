// Package qdrant is a thin gRPC client for the Qdrant operations the
// persistence layer uses: collection bootstrap, point upsert, lookup, scroll
// and delete. Calls carry a per-attempt timeout and retry transient gRPC
// failures.
package qdrant

import (
	"context"
)

// Client is implemented by GRPCClient and by in-memory fakes in tests.
type Client interface {
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	CollectionExists(ctx context.Context, name string) (bool, error)

	Upsert(ctx context.Context, collection string, points []*Point) error
	Get(ctx context.Context, collection string, ids []string) ([]*Point, error)
	// Scroll returns up to limit points with payloads and vectors.
	Scroll(ctx context.Context, collection string, limit uint32) ([]*Point, error)
	Delete(ctx context.Context, collection string, ids []string) error

	Health(ctx context.Context) error
	Close() error
}

// Point is a stored vector. ID must be a UUID.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Payload is the fixed document schema stored alongside each vector.
type Payload struct {
	Key       string
	Namespace string
	Content   string
	Tags      []string
	Metadata  map[string]string
}
