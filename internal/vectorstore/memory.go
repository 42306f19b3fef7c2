package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore 是 Store 的内存实现，用于测试与本地开发。
// 暴力遍历计算 cosine 相似度，语义与 Elasticsearch 实现对齐。
type MemoryStore struct {
	mu      sync.RWMutex
	dims    int
	records []memoryRecord
}

type memoryRecord struct {
	id      string
	content string
	vector  []float32
	meta    Meta
}

// NewMemoryStore 创建一个维度为 dims 的内存向量存储。
func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{dims: dims}
}

// Store 追加一批记录并返回按输入顺序生成的 ID。空列表是 no-op。
func (s *MemoryStore) Store(_ context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := validateRecords(records, s.dims); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(records))
	for _, r := range records {
		id := uuid.NewString()
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		s.records = append(s.records, memoryRecord{
			id:      id,
			content: r.Content,
			vector:  vec,
			meta:    r.Meta,
		})
		ids = append(ids, id)
	}
	return ids, nil
}

// Search 返回与查询向量最相似的至多 topK 条命中，按得分降序。
// 过滤条件先于排序生效；零模长记录不参与排序。
func (s *MemoryStore) Search(_ context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("vectorstore: 查询向量维度非法: 期望 %d, 实际 %d", s.dims, len(vector))
	}
	if isZeroVector(vector) {
		return nil, fmt.Errorf("vectorstore: 查询向量模长为零")
	}
	if topK <= 0 {
		return []Hit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, topK)
	for _, r := range s.records {
		if !matchFilter(r.meta, filter) {
			continue
		}
		if isZeroVector(r.vector) {
			continue
		}
		hits = append(hits, Hit{
			ID:      r.id,
			Content: r.content,
			Score:   cosineScore(vector, r.vector),
			Meta:    r.meta,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteByFilter 删除所有命中过滤条件的记录。空条件被拒绝。
func (s *MemoryStore) DeleteByFilter(_ context.Context, filter Filter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if !matchFilter(r.meta, filter) {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

// Len 返回当前存储的记录数，仅测试使用。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matchFilter(m Meta, f Filter) bool {
	if f.Username != "" && m.Username != f.Username {
		return false
	}
	if f.Scope != "" && m.Scope != f.Scope {
		return false
	}
	if f.DocumentName != "" && m.DocumentName != f.DocumentName {
		return false
	}
	return true
}

// cosineScore 计算 (1 + cos) / 2，把 cosine 相似度归一化到 [0,1]，
// 与 Elasticsearch kNN 的 _score 归一化保持一致。
func cosineScore(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (1 + cos) / 2
}
