// Package service 提供了核心业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"docbrain-go/internal/config"
	"docbrain-go/internal/model"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/embedding"
	"docbrain-go/pkg/log"
)

// 检索请求的校验错误与可用性错误，由 handler 映射为 HTTP 状态码。
var (
	// ErrEmptyQuery 表示查询内容去除空白后为空。
	ErrEmptyQuery = errors.New("查询内容不能为空")
	// ErrInvalidThreshold 表示相似度阈值超出 [0,1]。
	ErrInvalidThreshold = errors.New("相似度阈值必须在 0 到 1 之间")
	// ErrEmbeddingUnavailable 表示向量化服务不可用或返回了降级结果。
	// 检索路径不接受降级向量，宁可失败也不给出错误答案。
	ErrEmbeddingUnavailable = errors.New("向量化服务暂时不可用")
)

// QueryOptions 控制一次文档检索的租户范围与检索参数。
// TopK <= 0 与 Threshold < 0 使用配置默认值。
type QueryOptions struct {
	Username     string
	Scope        string
	DocumentName string
	TopK         int
	Threshold    float64
}

// RAGService 接口定义了基于向量检索的文档查询操作。
type RAGService interface {
	QueryDocuments(ctx context.Context, query string, opts QueryOptions) ([]model.QueryResult, error)
}

type ragService struct {
	embeddingClient embedding.Client
	store           vectorstore.Store
	cfg             config.RAGConfig
}

// NewRAGService 创建一个新的 RAGService 实例。
func NewRAGService(embeddingClient embedding.Client, store vectorstore.Store, cfg config.RAGConfig) RAGService {
	return &ragService{
		embeddingClient: embeddingClient,
		store:           store,
		cfg:             cfg,
	}
}

// QueryDocuments 执行一次向量检索：向量化查询、过滤检索、阈值筛选、去重、截断。
func (s *ragService) QueryDocuments(ctx context.Context, query string, opts QueryOptions) ([]model.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if opts.Threshold > 1 {
		return nil, ErrInvalidThreshold
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	threshold := opts.Threshold
	if threshold < 0 {
		threshold = s.cfg.SimilarityThreshold
	}

	log.Infof("[RAGService] 开始文档检索, query: '%s', user: %s, scope: %s, topK: %d, threshold: %.2f",
		query, opts.Username, opts.Scope, topK, threshold)

	// 1. 向量化查询。连接错误与降级结果都视为服务不可用
	result, err := s.embeddingClient.GenerateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RAGService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if result.Degraded {
		log.Warnf("[RAGService] 向量化查询返回降级结果, 拒绝检索")
		return nil, ErrEmbeddingUnavailable
	}

	// 2. 超量召回，为阈值筛选和去重留出余量
	fetchK := topK * s.cfg.OverFetchFactor
	filter := vectorstore.Filter{
		Username:     opts.Username,
		Scope:        opts.Scope,
		DocumentName: opts.DocumentName,
	}
	hits, err := s.store.Search(ctx, result.Vector, fetchK, filter)
	if err != nil {
		log.Errorf("[RAGService] 向量检索失败: %v", err)
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	log.Infof("[RAGService] 召回 %d 条候选 (fetchK=%d)", len(hits), fetchK)

	// 3. 阈值筛选与近重复去除
	kept := make([]vectorstore.Hit, 0, len(hits))
	seen := make(map[string]struct{})
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		if s.cfg.DedupEnabled {
			key := contentPrefix(h.Content, s.cfg.DedupPrefixLen)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		kept = append(kept, h)
	}

	// 4. 重排与截断
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > topK {
		kept = kept[:topK]
	}

	results := make([]model.QueryResult, 0, len(kept))
	for _, h := range kept {
		results = append(results, model.QueryResult{
			Content:      h.Content,
			Score:        h.Score,
			DocumentName: h.Meta.DocumentName,
			ChunkIndex:   h.Meta.ChunkIndex,
		})
	}

	log.Infof("[RAGService] 文档检索完成, 返回 %d 条结果", len(results))
	return results, nil
}

// contentPrefix 取内容的前 n 个 rune 作为去重键。
func contentPrefix(content string, n int) string {
	if n <= 0 {
		n = 100
	}
	runes := []rune(content)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}
