package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docbrain-go/internal/model"
	"docbrain-go/internal/service"
	"docbrain-go/pkg/log"
)

// SearchHandler 结构体定义了文档检索相关的处理器。
type SearchHandler struct {
	ragService service.RAGService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(ragService service.RAGService) *SearchHandler {
	return &SearchHandler{
		ragService: ragService,
	}
}

// Search 是处理文档检索请求的 Gin 处理函数。
// 错误映射：参数校验失败 -> 400，向量化服务不可用 -> 503，其余 -> 500。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	topK, err := strconv.Atoi(c.DefaultQuery("topK", "0"))
	if err != nil || topK < 0 {
		topK = 0 // 交由 service 使用配置默认值
	}
	threshold, err := strconv.ParseFloat(c.DefaultQuery("threshold", "-1"), 64)
	if err != nil {
		threshold = -1
	}

	userValue, exists := c.Get("user")
	if !exists {
		log.Errorf("[SearchHandler] 无法从 Gin 上下文中获取用户信息")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}
	user := userValue.(*model.User)

	opts := service.QueryOptions{
		Username:     user.Username,
		Scope:        c.Query("scope"),
		DocumentName: c.Query("documentName"),
		TopK:         topK,
		Threshold:    threshold,
	}

	results, err := h.ragService.QueryDocuments(c.Request.Context(), query, opts)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyQuery), errors.Is(err, service.ErrInvalidThreshold):
			log.Warnf("[SearchHandler] 检索请求参数非法: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrEmbeddingUnavailable):
			log.Errorf("[SearchHandler] 向量化服务不可用: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索服务暂时不可用，请稍后重试"})
		default:
			log.Errorf("[SearchHandler] 检索服务返回错误, error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索失败"})
		}
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}
