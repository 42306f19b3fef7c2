package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"docbrain-go/pkg/log"
)

// ElasticStore 是 Store 的 Elasticsearch 实现：dense_vector + cosine 的 kNN 检索，
// 租户过滤直接嵌入 knn 子句，在相似度排序阶段之前生效。
type ElasticStore struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewElasticStore 创建 ElasticStore 并确保索引存在（不存在则按映射创建）。
func NewElasticStore(client *elasticsearch.Client, indexName string, dims int) (*ElasticStore, error) {
	s := &ElasticStore{client: client, indexName: indexName, dims: dims}
	if err := s.ensureIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureIndex 检查索引是否存在，不存在则创建。
func (s *ElasticStore) ensureIndex() error {
	res, err := s.client.Indices.Exists([]string{s.indexName})
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	defer res.Body.Close()

	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"content": map[string]interface{}{"type": "text"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       s.dims,
					"index":      true,
					"similarity": "cosine",
				},
				"username":      map[string]interface{}{"type": "keyword"},
				"scope":         map[string]interface{}{"type": "keyword"},
				"document_name": map[string]interface{}{"type": "keyword"},
				"document_id":   map[string]interface{}{"type": "long"},
				"chunk_index":   map[string]interface{}{"type": "integer"},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(mapping); err != nil {
		return fmt.Errorf("序列化索引映射失败: %w", err)
	}

	createRes, err := s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", s.indexName, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, createRes.String())
	}

	log.Infof("索引 '%s' 创建成功", s.indexName)
	return nil
}

type elasticDocument struct {
	Content string    `json:"content"`
	Vector  []float32 `json:"vector,omitempty"`
	Meta
}

// Store 通过 _bulk 批量写入记录，返回按输入顺序生成的 ID。
// 任一条目失败即视为整批失败。全零向量（降级兜底）无法通过 cosine 索引，
// 写入时省略其 vector 字段，内容与元数据保留。
func (s *ElasticStore) Store(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := validateRecords(records, s.dims); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	var buf bytes.Buffer
	for _, r := range records {
		id := uuid.NewString()
		ids = append(ids, id)

		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": s.indexName, "_id": id},
		}
		actionBytes, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("序列化 bulk 操作行失败: %w", err)
		}

		doc := elasticDocument{Content: r.Content, Meta: r.Meta}
		if !isZeroVector(r.Vector) {
			doc.Vector = r.Vector
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("序列化 bulk 文档行失败: %w", err)
		}

		buf.Write(actionBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("批量写入 Elasticsearch 失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("批量写入 Elasticsearch 返回错误: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return nil, fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for i, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return nil, fmt.Errorf("批量写入第 %d 条记录失败 [%s]: %s", i, op.Error.Type, op.Error.Reason)
				}
			}
		}
		return nil, errors.New("批量写入 Elasticsearch 部分条目失败")
	}

	return ids, nil
}

// Search 执行 kNN 检索，租户过滤内嵌在 knn 子句中。
// Elasticsearch 对 cosine 的 _score 归一化为 (1 + cos) / 2，天然落在 [0,1]。
func (s *ElasticStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("vectorstore: 查询向量维度非法: 期望 %d, 实际 %d", s.dims, len(vector))
	}
	if isZeroVector(vector) {
		return nil, fmt.Errorf("vectorstore: 查询向量模长为零")
	}
	if topK <= 0 {
		return []Hit{}, nil
	}

	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if terms := filterTerms(filter); len(terms) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"must": terms},
		}
	}
	esQuery := map[string]interface{}{
		"knn":  knn,
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化 Elasticsearch 查询失败: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("向 Elasticsearch 发送检索请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch 检索返回错误 [%s]: %s", res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source elasticDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 检索响应失败: %w", err)
	}

	hits := make([]Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, Hit{
			ID:      h.ID,
			Content: h.Source.Content,
			Score:   h.Score,
			Meta:    h.Source.Meta,
		})
	}
	return hits, nil
}

// DeleteByFilter 通过 _delete_by_query 批量删除命中过滤条件的记录。
func (s *ElasticStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": filterTerms(filter)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("序列化删除查询失败: %w", err)
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{s.indexName},
		Body:    &buf,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("按条件删除 Elasticsearch 记录失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("按条件删除 Elasticsearch 记录返回错误: %s", res.String())
	}
	return nil
}

// filterTerms 把 Filter 翻译为 ES 的 term 等值子句，零值字段不产生约束。
func filterTerms(f Filter) []map[string]interface{} {
	var terms []map[string]interface{}
	if f.Username != "" {
		terms = append(terms, map[string]interface{}{"term": map[string]interface{}{"username": f.Username}})
	}
	if f.Scope != "" {
		terms = append(terms, map[string]interface{}{"term": map[string]interface{}{"scope": f.Scope}})
	}
	if f.DocumentName != "" {
		terms = append(terms, map[string]interface{}{"term": map[string]interface{}{"document_name": f.DocumentName}})
	}
	return terms
}
