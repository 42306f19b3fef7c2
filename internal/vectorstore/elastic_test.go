package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newElasticStub 启动一个模拟 Elasticsearch 的 httptest 服务。
// go-elasticsearch 客户端要求响应携带产品标识头。
func newElasticStub(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *elasticsearch.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		// 索引存在性检查统一返回 200，跳过建索引流程
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return srv, client
}

func TestElasticStoreStore(t *testing.T) {
	ctx := context.Background()

	t.Run("bulk writes every record and returns ids in order", func(t *testing.T) {
		var bulkBody string
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_bulk") {
				body, _ := io.ReadAll(r.Body)
				bulkBody = string(body)
				fmt.Fprint(w, `{"errors":false,"items":[{"index":{"status":201}},{"index":{"status":201}}]}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		ids, err := store.Store(ctx, []Record{
			{Content: "first", Vector: []float32{1, 0, 0}, Meta: Meta{Username: "alice", Scope: "eng", ChunkIndex: 0}},
			{Content: "second", Vector: []float32{0, 1, 0}, Meta: Meta{Username: "alice", Scope: "eng", ChunkIndex: 1}},
		})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])

		// bulk 体为 action/doc 成对的 NDJSON
		lines := strings.Split(strings.TrimSpace(bulkBody), "\n")
		require.Len(t, lines, 4)
		assert.Contains(t, lines[0], ids[0])
		assert.Contains(t, lines[1], `"content":"first"`)
		assert.Contains(t, lines[1], `"chunk_index":0`)
		assert.Contains(t, lines[2], ids[1])
		assert.Contains(t, lines[3], `"content":"second"`)
	})

	t.Run("zero vectors are indexed without the vector field", func(t *testing.T) {
		var bulkBody string
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_bulk") {
				body, _ := io.ReadAll(r.Body)
				bulkBody = string(body)
				fmt.Fprint(w, `{"errors":false,"items":[{"index":{"status":201}}]}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		_, err = store.Store(ctx, []Record{{Content: "degraded", Vector: []float32{0, 0, 0}}})
		require.NoError(t, err)
		assert.NotContains(t, bulkBody, `"vector"`)
		assert.Contains(t, bulkBody, `"content":"degraded"`)
	})

	t.Run("any item failure fails the whole batch", func(t *testing.T) {
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_bulk") {
				fmt.Fprint(w, `{"errors":true,"items":[{"index":{"status":201}},{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"boom"}}}]}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		_, err = store.Store(ctx, []Record{
			{Content: "ok", Vector: []float32{1, 0, 0}},
			{Content: "broken", Vector: []float32{0, 1, 0}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mapper_parsing_exception")
	})

	t.Run("empty batch never touches the backend", func(t *testing.T) {
		calls := 0
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		ids, err := store.Store(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Zero(t, calls)
	})
}

func TestElasticStoreSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("builds a knn query with the tenant filter inside the knn clause", func(t *testing.T) {
		var searchBody map[string]interface{}
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_search") {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))
				fmt.Fprint(w, `{"hits":{"hits":[
					{"_id":"id-1","_score":0.92,"_source":{"content":"top hit","username":"alice","scope":"eng","document_name":"a.txt","chunk_index":2}},
					{"_id":"id-2","_score":0.61,"_source":{"content":"second hit","username":"alice","scope":"eng","document_name":"a.txt","chunk_index":5}}
				]}}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		hits, err := store.Search(ctx, []float32{1, 0, 0}, 5, Filter{Username: "alice", Scope: "eng"})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "top hit", hits[0].Content)
		assert.Equal(t, 0.92, hits[0].Score)
		assert.Equal(t, 2, hits[0].Meta.ChunkIndex)
		assert.Equal(t, "id-2", hits[1].ID)

		knn := searchBody["knn"].(map[string]interface{})
		assert.Equal(t, "vector", knn["field"])
		assert.Equal(t, float64(5), knn["k"])
		assert.Equal(t, float64(50), knn["num_candidates"])
		filter := knn["filter"].(map[string]interface{})["bool"].(map[string]interface{})["must"].([]interface{})
		assert.Len(t, filter, 2)
	})

	t.Run("empty filter omits the knn filter clause", func(t *testing.T) {
		var searchBody map[string]interface{}
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_search") {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))
				fmt.Fprint(w, `{"hits":{"hits":[]}}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		hits, err := store.Search(ctx, []float32{1, 0, 0}, 5, Filter{})
		require.NoError(t, err)
		assert.Empty(t, hits)

		knn := searchBody["knn"].(map[string]interface{})
		_, hasFilter := knn["filter"]
		assert.False(t, hasFilter)
	})

	t.Run("rejects bad query vectors without calling the backend", func(t *testing.T) {
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		_, err = store.Search(ctx, []float32{1, 0}, 5, Filter{})
		assert.Error(t, err)
		_, err = store.Search(ctx, []float32{0, 0, 0}, 5, Filter{})
		assert.Error(t, err)
	})
}

func TestElasticStoreDeleteByFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("sends a delete_by_query with term clauses", func(t *testing.T) {
		var deleteBody map[string]interface{}
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/_delete_by_query") {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&deleteBody))
				fmt.Fprint(w, `{"deleted":3}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		require.NoError(t, store.DeleteByFilter(ctx, Filter{Username: "alice", DocumentName: "a.txt"}))
		must := deleteBody["query"].(map[string]interface{})["bool"].(map[string]interface{})["must"].([]interface{})
		assert.Len(t, must, 2)
	})

	t.Run("empty filter is rejected locally", func(t *testing.T) {
		calls := 0
		_, client := newElasticStub(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusOK)
		})
		store, err := NewElasticStore(client, "test_chunks", 3)
		require.NoError(t, err)

		err = store.DeleteByFilter(ctx, Filter{})
		assert.ErrorIs(t, err, ErrEmptyFilter)
		assert.Zero(t, calls)
	})
}
