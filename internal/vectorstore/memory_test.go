package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreStore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch is a no-op", func(t *testing.T) {
		s := NewMemoryStore(3)
		ids, err := s.Store(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Zero(t, s.Len())
	})

	t.Run("returns one fresh id per record in input order", func(t *testing.T) {
		s := NewMemoryStore(3)
		ids, err := s.Store(ctx, []Record{
			{Content: "a", Vector: []float32{1, 0, 0}},
			{Content: "b", Vector: []float32{0, 1, 0}},
		})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])
		assert.Equal(t, 2, s.Len())
	})

	t.Run("rejects dimension mismatch", func(t *testing.T) {
		s := NewMemoryStore(3)
		_, err := s.Store(ctx, []Record{{Content: "bad", Vector: []float32{1, 0}}})
		require.Error(t, err)
		assert.Zero(t, s.Len())
	})
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *MemoryStore {
		t.Helper()
		s := NewMemoryStore(3)
		_, err := s.Store(ctx, []Record{
			{Content: "exact", Vector: []float32{1, 0, 0}, Meta: Meta{Username: "alice", Scope: "eng"}},
			{Content: "close", Vector: []float32{0.9, 0.1, 0}, Meta: Meta{Username: "alice", Scope: "eng"}},
			{Content: "far", Vector: []float32{0, 0, 1}, Meta: Meta{Username: "alice", Scope: "eng"}},
			{Content: "other user", Vector: []float32{1, 0, 0}, Meta: Meta{Username: "bob", Scope: "eng"}},
		})
		require.NoError(t, err)
		return s
	}

	t.Run("round-trip returns the stored content with a high score", func(t *testing.T) {
		s := seed(t)
		hits, err := s.Search(ctx, []float32{1, 0, 0}, 1, Filter{Username: "alice"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "exact", hits[0].Content)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	})

	t.Run("scores are in [0,1] and descending", func(t *testing.T) {
		s := seed(t)
		hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, Filter{Username: "alice"})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		for i, h := range hits {
			assert.GreaterOrEqual(t, h.Score, 0.0)
			assert.LessOrEqual(t, h.Score, 1.0)
			if i > 0 {
				assert.LessOrEqual(t, h.Score, hits[i-1].Score)
			}
		}
	})

	t.Run("topK bounds the result count", func(t *testing.T) {
		s := seed(t)
		hits, err := s.Search(ctx, []float32{1, 0, 0}, 2, Filter{})
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("conjunctive filter with absent fields unconstrained", func(t *testing.T) {
		s := seed(t)
		hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, Filter{Username: "alice"})
		require.NoError(t, err)
		for _, h := range hits {
			assert.Equal(t, "alice", h.Meta.Username)
		}

		all, err := s.Search(ctx, []float32{1, 0, 0}, 10, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("tenant isolation between users in the same scope", func(t *testing.T) {
		s := seed(t)
		hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, Filter{Username: "bob", Scope: "eng"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "other user", hits[0].Content)
	})

	t.Run("zero-magnitude records never rank", func(t *testing.T) {
		s := NewMemoryStore(3)
		_, err := s.Store(ctx, []Record{
			{Content: "degraded", Vector: []float32{0, 0, 0}},
			{Content: "real", Vector: []float32{1, 0, 0}},
		})
		require.NoError(t, err)

		hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, Filter{})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "real", hits[0].Content)
	})

	t.Run("rejects bad query vectors", func(t *testing.T) {
		s := seed(t)
		_, err := s.Search(ctx, []float32{1, 0}, 5, Filter{})
		assert.Error(t, err)
		_, err = s.Search(ctx, []float32{0, 0, 0}, 5, Filter{})
		assert.Error(t, err)
	})
}

func TestMemoryStoreDeleteByFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("removes only matching records", func(t *testing.T) {
		s := NewMemoryStore(3)
		_, err := s.Store(ctx, []Record{
			{Content: "keep", Vector: []float32{1, 0, 0}, Meta: Meta{Username: "alice", DocumentName: "a.txt"}},
			{Content: "drop", Vector: []float32{0, 1, 0}, Meta: Meta{Username: "alice", DocumentName: "b.txt"}},
		})
		require.NoError(t, err)

		require.NoError(t, s.DeleteByFilter(ctx, Filter{Username: "alice", DocumentName: "b.txt"}))
		assert.Equal(t, 1, s.Len())

		hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, Filter{})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "keep", hits[0].Content)
	})

	t.Run("empty filter is rejected", func(t *testing.T) {
		s := NewMemoryStore(3)
		err := s.DeleteByFilter(ctx, Filter{})
		assert.ErrorIs(t, err, ErrEmptyFilter)
	})
}
