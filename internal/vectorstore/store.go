// Package vectorstore 定义了向量记录的存储与相似度检索抽象及其实现。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// Meta 携带向量记录的租户元数据，查询时按其字段做等值过滤。
type Meta struct {
	Username     string `json:"username"`
	Scope        string `json:"scope"`
	DocumentName string `json:"document_name"`
	DocumentID   uint   `json:"document_id"`
	ChunkIndex   int    `json:"chunk_index"`
}

// Record 是一条待入库的 (内容, 向量, 元数据) 记录。入库后不可变更。
type Record struct {
	Content string
	Vector  []float32
	Meta    Meta
}

// Filter 是租户维度的合取等值过滤条件，零值字段不参与过滤。
type Filter struct {
	Username     string
	Scope        string
	DocumentName string
}

// IsEmpty 判断过滤条件是否完全为空。
func (f Filter) IsEmpty() bool {
	return f.Username == "" && f.Scope == "" && f.DocumentName == ""
}

// Hit 是一次相似度检索的单条命中。Score 归一化到 [0,1]，1 表示完全相同。
type Hit struct {
	ID      string
	Content string
	Score   float64
	Meta    Meta
}

// ErrEmptyFilter 表示按过滤条件批量删除时传入了空条件。
// 空条件会清空整个索引，必须由调用方显式拒绝。
var ErrEmptyFilter = errors.New("vectorstore: 删除操作不允许空过滤条件")

// Store 是向量存储的统一抽象。
//
// Store 对空记录列表是无副作用的 no-op；批量写入要么整体成功并按输入顺序
// 返回新生成的记录 ID，要么返回错误且调用方视为整批未写入（重试由调用方负责）。
// Search 返回按相似度降序排列、数量不超过 topK 的命中，过滤在排序截断之前生效。
type Store interface {
	Store(ctx context.Context, records []Record) ([]string, error)
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error)
	DeleteByFilter(ctx context.Context, filter Filter) error
}

// validateRecords 校验批量记录的向量维度。全零向量放行，由实现各自处理
// （cosine 相似度拒绝零模长向量，实现需要跳过其向量字段或排除排序）。
func validateRecords(records []Record, dims int) error {
	for i, r := range records {
		if len(r.Vector) != dims {
			return fmt.Errorf("vectorstore: 第 %d 条记录向量维度非法: 期望 %d, 实际 %d", i, dims, len(r.Vector))
		}
	}
	return nil
}

// isZeroVector 判断向量是否为全零（零模长向量无法参与 cosine 排序）。
func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
