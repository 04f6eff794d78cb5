// Package persistence provides durable backends for pattern records.
//
// The pattern store keeps its authoritative state in memory and writes
// through to a Delegate. Backends: Noop (default), Memory (tests), Chromem
// (embedded vector DB), SQLite and Qdrant.
package persistence

import (
	"context"
	"errors"
	"fmt"
)

// Namespaces used by the pattern store.
const (
	NamespaceShortTerm = "patterns:short_term"
	NamespaceLongTerm  = "patterns:long_term"
)

var (
	// ErrNotFound is returned by Update for an unknown key.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid persistence configuration")

	// ErrInvalidEntry indicates an entry that cannot be stored.
	ErrInvalidEntry = errors.New("invalid entry")
)

// Entry is one persisted record.
type Entry struct {
	Key       string
	Namespace string
	Content   string
	Embedding []float32
	Tags      []string
	Metadata  map[string]string
}

// Patch is a partial update. Nil fields are left unchanged; a non-nil
// Metadata replaces the stored map.
type Patch struct {
	Content   *string
	Embedding []float32
	Tags      []string
	Metadata  map[string]string
}

// Delegate is a durable key/vector store.
type Delegate interface {
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Store inserts or replaces the entry under its namespace.
	Store(ctx context.Context, e Entry) error
	// Query returns up to limit entries of namespace. A non-positive limit
	// returns all entries.
	Query(ctx context.Context, namespace string, limit int) ([]Entry, error)
	// Update applies p to the entry with key in whichever namespace holds it.
	Update(ctx context.Context, key string, p Patch) error
	// Delete removes key from every namespace. Unknown keys are ignored.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

func validateEntry(e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidEntry)
	}
	if e.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidEntry)
	}
	return nil
}

// apply returns a copy of e with p applied.
func (p Patch) apply(e Entry) Entry {
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Embedding != nil {
		e.Embedding = cloneVec(p.Embedding)
	}
	if p.Tags != nil {
		e.Tags = append([]string(nil), p.Tags...)
	}
	if p.Metadata != nil {
		e.Metadata = cloneMap(p.Metadata)
	}
	return e
}

func cloneEntry(e Entry) Entry {
	e.Embedding = cloneVec(e.Embedding)
	if e.Tags != nil {
		e.Tags = append([]string(nil), e.Tags...)
	}
	e.Metadata = cloneMap(e.Metadata)
	return e
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
