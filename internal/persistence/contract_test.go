package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 4

func testEntry(ns, content string, vec ...float32) Entry {
	return Entry{
		Key:       uuid.NewString(),
		Namespace: ns,
		Content:   content,
		Embedding: vec,
		Tags:      []string{"security"},
		Metadata:  map[string]string{"agent": "security-architect"},
	}
}

// runDelegateContract exercises the behavior every backend must share.
func runDelegateContract(t *testing.T, newDelegate func(t *testing.T) Delegate) {
	ctx := context.Background()

	t.Run("store and query by namespace", func(t *testing.T) {
		d := newDelegate(t)
		a := testEntry(NamespaceShortTerm, "validate JWT token signature", 1, 0, 0, 0)
		b := testEntry(NamespaceLongTerm, "mock the clock in tests", 0, 1, 0, 0)
		require.NoError(t, d.Store(ctx, a))
		require.NoError(t, d.Store(ctx, b))

		short, err := d.Query(ctx, NamespaceShortTerm, 0)
		require.NoError(t, err)
		require.Len(t, short, 1)
		assert.Equal(t, a.Key, short[0].Key)
		assert.Equal(t, NamespaceShortTerm, short[0].Namespace)
		assert.Equal(t, a.Content, short[0].Content)
		assert.InDeltaSlice(t, a.Embedding, short[0].Embedding, 1e-6)
		assert.Equal(t, a.Tags, short[0].Tags)
		assert.Equal(t, "security-architect", short[0].Metadata["agent"])

		long, err := d.Query(ctx, NamespaceLongTerm, 0)
		require.NoError(t, err)
		require.Len(t, long, 1)
		assert.Equal(t, b.Key, long[0].Key)
	})

	t.Run("query respects limit", func(t *testing.T) {
		d := newDelegate(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, d.Store(ctx, testEntry(NamespaceShortTerm, "p", 1, float32(i), 0, 0)))
		}
		got, err := d.Query(ctx, NamespaceShortTerm, 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("query unknown namespace is empty", func(t *testing.T) {
		d := newDelegate(t)
		got, err := d.Query(ctx, "patterns:unknown", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("update patches metadata", func(t *testing.T) {
		d := newDelegate(t)
		e := testEntry(NamespaceShortTerm, "retry flaky network calls", 0, 0, 1, 0)
		require.NoError(t, d.Store(ctx, e))

		require.NoError(t, d.Update(ctx, e.Key, Patch{
			Metadata: map[string]string{"agent": "coder", "usage_count": "2"},
		}))

		got, err := d.Query(ctx, NamespaceShortTerm, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "coder", got[0].Metadata["agent"])
		assert.Equal(t, "2", got[0].Metadata["usage_count"])
		assert.Equal(t, e.Content, got[0].Content)
	})

	t.Run("update unknown key", func(t *testing.T) {
		d := newDelegate(t)
		err := d.Update(ctx, uuid.NewString(), Patch{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("store replaces and moves namespace after delete", func(t *testing.T) {
		d := newDelegate(t)
		e := testEntry(NamespaceShortTerm, "cache hot queries", 0, 0, 0, 1)
		require.NoError(t, d.Store(ctx, e))

		require.NoError(t, d.Delete(ctx, e.Key))
		e.Namespace = NamespaceLongTerm
		require.NoError(t, d.Store(ctx, e))

		short, err := d.Query(ctx, NamespaceShortTerm, 0)
		require.NoError(t, err)
		assert.Empty(t, short)
		long, err := d.Query(ctx, NamespaceLongTerm, 0)
		require.NoError(t, err)
		require.Len(t, long, 1)
		assert.Equal(t, e.Key, long[0].Key)
	})

	t.Run("delete unknown key is ignored", func(t *testing.T) {
		d := newDelegate(t)
		assert.NoError(t, d.Delete(ctx, uuid.NewString()))
	})

	t.Run("rejects invalid entry", func(t *testing.T) {
		d := newDelegate(t)
		assert.ErrorIs(t, d.Store(ctx, Entry{Namespace: NamespaceShortTerm}), ErrInvalidEntry)
		assert.ErrorIs(t, d.Store(ctx, Entry{Key: "k"}), ErrInvalidEntry)
	})

	t.Run("ping", func(t *testing.T) {
		d := newDelegate(t)
		assert.NoError(t, d.Ping(ctx))
	})
}
