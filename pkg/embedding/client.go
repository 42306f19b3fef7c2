// Package embedding 提供了调用 Embedding 模型服务的客户端。
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"docbrain-go/internal/config"
	"docbrain-go/pkg/log"
)

// Result 是一次向量化调用的结果。
// Text 是实际被向量化的规范化文本，调用方应以它作为入库内容；
// Degraded 标记该向量是 API 错误重试耗尽后的零向量兜底。
type Result struct {
	Text     string
	Vector   []float32
	Degraded bool
}

// Client 定义了向量化客户端的接口。
// 同一实例可被多个 goroutine 并发调用，除配置外不持有共享可变状态。
type Client interface {
	GenerateEmbedding(ctx context.Context, text string) (*Result, error)
}

type openAICompatibleClient struct {
	cfg          config.EmbeddingConfig
	client       *http.Client
	healthClient *http.Client
}

// NewClient 根据配置创建一个 OpenAI 兼容的向量化客户端。
// 健康探测使用独立的短超时，不会影响主调用。
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.RequestTimeout()},
		healthClient: &http.Client{Timeout: cfg.HealthCheckTimeout()},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding json.RawMessage `json:"embedding"`
	} `json:"data"`
}

var (
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	newlineEdges = regexp.MustCompile(`\s*\n\s*`)
	newlineRuns  = regexp.MustCompile(`\n+`)
)

// NormalizeText 对输入做向量化前的规范化：去首尾空白、转小写、
// 压缩水平空白为单个空格、压缩换行（含换行两侧空白）为单个换行。
func NormalizeText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineEdges.ReplaceAllString(text, "\n")
	text = newlineRuns.ReplaceAllString(text, "\n")
	return text
}

// ZeroVector 返回维度为 dims 的零向量兜底。
func ZeroVector(dims int) []float32 {
	return make([]float32, dims)
}

// GenerateEmbedding 将文本规范化后调用远端服务生成向量。
// 规范化后为空的文本直接返回 ("empty", 零向量)，不产生网络调用。
// 连接类失败按指数退避重试，耗尽后返回 *ConnectionError；
// API 类失败重试耗尽后降级为零向量（Degraded=true），错误返回 nil；
// 维度不符立即返回 *DimensionError。
func (c *openAICompatibleClient) GenerateEmbedding(ctx context.Context, text string) (*Result, error) {
	normalized := NormalizeText(text)
	if normalized == "" {
		return &Result{Text: "empty", Vector: ZeroVector(c.cfg.Dimensions)}, nil
	}

	var lastConn, lastAPI error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if c.cfg.HealthCheckEnabled {
			c.probeHealth(ctx)
		}

		vector, err := c.callEmbeddingAPI(ctx, normalized)
		if err == nil {
			if len(vector) != c.cfg.Dimensions {
				return nil, &DimensionError{Want: c.cfg.Dimensions, Got: len(vector)}
			}
			return &Result{Text: normalized, Vector: vector}, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			lastAPI, lastConn = err, nil
			log.Warnf("[EmbeddingClient] 第 %d/%d 次调用返回 API 错误: %v", attempt+1, c.cfg.MaxRetries, err)
		} else {
			lastConn, lastAPI = err, nil
			log.Warnf("[EmbeddingClient] 第 %d/%d 次调用连接失败: %v", attempt+1, c.cfg.MaxRetries, err)
		}

		if attempt < c.cfg.MaxRetries-1 {
			if werr := c.backoff(ctx, attempt); werr != nil {
				// 等待期间上下文被取消，按连接类失败收尾
				lastConn, lastAPI = werr, nil
				break
			}
		}
	}

	if lastConn != nil {
		return nil, &ConnectionError{Attempts: c.cfg.MaxRetries, Err: lastConn}
	}

	log.Warnf("[EmbeddingClient] 重试耗尽，降级为零向量兜底: %v", lastAPI)
	return &Result{Text: normalized, Vector: ZeroVector(c.cfg.Dimensions), Degraded: true}, nil
}

// probeHealth 探测服务健康端点。探测仅供参考：失败只记录日志，从不阻断主调用。
func (c *openAICompatibleClient) probeHealth(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthCheckTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		log.Warnf("[EmbeddingClient] 创建健康探测请求失败: %v", err)
		return
	}

	resp, err := c.healthClient.Do(req)
	if err != nil {
		log.Warnf("[EmbeddingClient] 健康探测失败: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("[EmbeddingClient] 健康探测返回非 200 状态码: %s", resp.Status)
	}
}

// callEmbeddingAPI 发起一次 embedding 调用。
// 传输层失败返回普通 error（连接类）；服务端错误与响应形状问题返回 *APIError。
func (c *openAICompatibleClient) callEmbeddingAPI(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{text},
		Dimensions: c.cfg.Dimensions,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化 embedding 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建 embedding 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 embedding api 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "响应体不可解析: " + err.Error()}
	}
	if len(embResp.Data) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "响应缺少向量数据"}
	}

	vector, err := decodeVector(embResp.Data[0].Embedding)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return vector, nil
}

// decodeVector 解析向量负载。部分服务会返回嵌套的二维数组，这里统一摊平为一维。
func decodeVector(raw json.RawMessage) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}

	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err == nil {
		var out []float32
		for _, row := range nested {
			out = append(out, row...)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, errors.New("embedding 向量负载为空或不可解析")
}

// retryDelay 计算第 attempt 次失败后的退避时长：base * 2^attempt，封顶 max。
func retryDelay(cfg config.EmbeddingConfig, attempt int) time.Duration {
	d := cfg.BaseRetryDelay() << uint(attempt)
	if max := cfg.MaxRetryDelay(); max > 0 && (d > max || d <= 0) {
		d = max
	}
	return d
}

// backoff 在重试之间等待，等待可被上下文取消。
func (c *openAICompatibleClient) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(retryDelay(c.cfg, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
