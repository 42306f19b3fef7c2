package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbrain-go/internal/config"
	"docbrain-go/internal/model"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/embedding"
)

const ragTestDims = 3

// queryEmbedder 把任何查询向量化为固定向量，可配置失败与降级。
type queryEmbedder struct {
	vector   []float32
	degraded bool
	err      error
}

func (q *queryEmbedder) GenerateEmbedding(_ context.Context, text string) (*embedding.Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	return &embedding.Result{Text: text, Vector: q.vector, Degraded: q.degraded}, nil
}

func ragTestConfig() config.RAGConfig {
	return config.RAGConfig{
		DefaultTopK:         5,
		SimilarityThreshold: 0.2,
		OverFetchFactor:     4,
		DedupEnabled:        true,
		DedupPrefixLen:      100,
	}
}

// seedStore 写入带不同相似度梯度的记录。
func seedStore(t *testing.T, records []vectorstore.Record) *vectorstore.MemoryStore {
	t.Helper()
	store := vectorstore.NewMemoryStore(ragTestDims)
	if len(records) > 0 {
		_, err := store.Store(context.Background(), records)
		require.NoError(t, err)
	}
	return store
}

func record(content, username string, vector []float32) vectorstore.Record {
	return vectorstore.Record{
		Content: content,
		Vector:  vector,
		Meta:    vectorstore.Meta{Username: username, Scope: "eng", DocumentName: "doc.txt"},
	}
}

func TestRAGServiceQueryDocuments(t *testing.T) {
	ctx := context.Background()
	queryVec := []float32{1, 0, 0}

	t.Run("empty query is rejected before any embedding call", func(t *testing.T) {
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, seedStore(t, nil), ragTestConfig())
		_, err := svc.QueryDocuments(ctx, "   \t\n ", QueryOptions{Username: "alice"})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("threshold above one is rejected", func(t *testing.T) {
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, seedStore(t, nil), ragTestConfig())
		_, err := svc.QueryDocuments(ctx, "anything", QueryOptions{Threshold: 1.5})
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	})

	t.Run("embedding connection failure maps to unavailable", func(t *testing.T) {
		embedder := &queryEmbedder{err: &embedding.ConnectionError{Attempts: 3}}
		svc := NewRAGService(embedder, seedStore(t, nil), ragTestConfig())
		_, err := svc.QueryDocuments(ctx, "anything", QueryOptions{})
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("degraded embedding maps to unavailable", func(t *testing.T) {
		embedder := &queryEmbedder{vector: embedding.ZeroVector(ragTestDims), degraded: true}
		svc := NewRAGService(embedder, seedStore(t, nil), ragTestConfig())
		_, err := svc.QueryDocuments(ctx, "anything", QueryOptions{})
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("results are filtered by threshold and sorted descending", func(t *testing.T) {
		store := seedStore(t, []vectorstore.Record{
			record("exact match", "alice", []float32{1, 0, 0}),
			record("close match", "alice", []float32{0.9, 0.3, 0}),
			record("opposite", "alice", []float32{-1, 0, 0}), // score 0, 低于阈值
		})
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, store, ragTestConfig())

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice", Threshold: 0.5})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "exact match", results[0].Content)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	})

	t.Run("negative threshold falls back to the configured default", func(t *testing.T) {
		store := seedStore(t, []vectorstore.Record{
			record("kept", "alice", []float32{1, 0, 0}),
			record("dropped by default threshold", "alice", []float32{-1, 0, 0}),
		})
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, store, ragTestConfig())

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice", Threshold: -1})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "kept", results[0].Content)
	})

	t.Run("topK zero uses the configured default and caps results", func(t *testing.T) {
		records := make([]vectorstore.Record, 8)
		for i := range records {
			records[i] = record("unique content "+string(rune('a'+i)), "alice", []float32{1, float32(i) * 0.01, 0})
		}
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, seedStore(t, records), ragTestConfig())

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice"})
		require.NoError(t, err)
		assert.Len(t, results, 5)
	})

	t.Run("near-duplicate contents are deduplicated by prefix", func(t *testing.T) {
		store := seedStore(t, []vectorstore.Record{
			record("shared prefix content", "alice", []float32{1, 0, 0}),
			record("shared prefix content", "alice", []float32{0.99, 0.05, 0}),
			record("different content", "alice", []float32{0.9, 0.3, 0}),
		})
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, store, ragTestConfig())

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "shared prefix content", results[0].Content)
		assert.Equal(t, "different content", results[1].Content)
	})

	t.Run("dedup can be disabled by config", func(t *testing.T) {
		store := seedStore(t, []vectorstore.Record{
			record("same content", "alice", []float32{1, 0, 0}),
			record("same content", "alice", []float32{0.99, 0.05, 0}),
		})
		cfg := ragTestConfig()
		cfg.DedupEnabled = false
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, store, cfg)

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice"})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("tenant filter restricts results to the caller", func(t *testing.T) {
		store := seedStore(t, []vectorstore.Record{
			record("alice doc", "alice", []float32{1, 0, 0}),
			record("bob doc", "bob", []float32{1, 0, 0}),
		})
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, store, ragTestConfig())

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "alice doc", results[0].Content)
	})

	t.Run("result carries document metadata", func(t *testing.T) {
		store := seedStore(t, []vectorstore.Record{
			{
				Content: "snippet",
				Vector:  []float32{1, 0, 0},
				Meta:    vectorstore.Meta{Username: "alice", Scope: "eng", DocumentName: "handbook.pdf", ChunkIndex: 7},
			},
		})
		svc := NewRAGService(&queryEmbedder{vector: queryVec}, store, ragTestConfig())

		results, err := svc.QueryDocuments(ctx, "query", QueryOptions{Username: "alice"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, model.QueryResult{
			Content:      "snippet",
			Score:        results[0].Score,
			DocumentName: "handbook.pdf",
			ChunkIndex:   7,
		}, results[0])
	})
}
