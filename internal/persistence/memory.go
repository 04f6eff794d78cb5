package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable is returned by a Memory delegate that was marked down.
var ErrUnavailable = errors.New("persistence backend unavailable")

// Memory is a process-local Delegate. Entries are returned in insertion
// order. SetDown simulates an unreachable backend.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   map[string]int
	seq     int
	down    bool
}

// NewMemory creates an empty Memory delegate.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		order:   make(map[string]int),
	}
}

// SetDown makes every call fail with ErrUnavailable while down is true.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) Store(_ context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	if _, ok := m.entries[e.Key]; !ok {
		m.seq++
		m.order[e.Key] = m.seq
	}
	m.entries[e.Key] = cloneEntry(e)
	return nil
}

func (m *Memory) Query(_ context.Context, namespace string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, ErrUnavailable
	}

	var out []Entry
	for _, e := range m.entries {
		if e.Namespace == namespace {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].Key] < m.order[out[j].Key] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Update(_ context.Context, key string, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	e, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	m.entries[key] = p.apply(e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	delete(m.entries, key)
	delete(m.order, key)
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Get returns the entry for key.
func (m *Memory) Get(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return cloneEntry(e), ok
}

var _ Delegate = (*Memory)(nil)
