// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docbrain-go/internal/model"
	"docbrain-go/internal/service"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/token"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService  service.DocumentService
	userService service.UserService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, userService service.UserService) *DocumentHandler {
	return &DocumentHandler{
		docService:  docService,
		userService: userService,
	}
}

// IngestRequest 定义了文本入库 API 的请求体结构。
// Text 与 Chunks 二选一：提供 Chunks 时跳过服务端分块。
type IngestRequest struct {
	DocumentName string   `json:"documentName" binding:"required"`
	Scope        string   `json:"scope" binding:"required"`
	Text         string   `json:"text"`
	Chunks       []string `json:"chunks"`
}

// Ingest 处理文本入库请求，异步处理，返回 202 与文档 ID。
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：documentName 和 scope 不能为空"})
		return
	}
	if req.Text == "" && len(req.Chunks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text 和 chunks 不能同时为空"})
		return
	}

	user, err := h.getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	doc, err := h.docService.IngestText(c.Request.Context(), user.Username, req.Scope, req.DocumentName, req.Text, req.Chunks)
	if err != nil {
		if errors.Is(err, service.ErrEmptyDocument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("Ingest: failed for user %s, doc %s, err: %v", user.Username, req.DocumentName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "入库任务提交失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "入库任务已提交",
		"data":    gin.H{"docId": doc.ID, "status": doc.Status},
	})
}

// Upload 处理文件上传入库请求，文件落对象存储后异步处理。
func (h *DocumentHandler) Upload(c *gin.Context) {
	scope := c.PostForm("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 scope 参数"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}

	user, err := h.getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	doc, err := h.docService.UploadDocument(c.Request.Context(), user.Username, scope, fileHeader.Filename, file, fileHeader.Size, contentType)
	if err != nil {
		log.Errorf("Upload: failed for user %s, file %s, err: %v", user.Username, fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文件上传失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "文件入库任务已提交",
		"data":    gin.H{"docId": doc.ID, "status": doc.Status},
	})
}

// List 处理分页获取自己文档列表的请求。
func (h *DocumentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	user, err := h.getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	docs, total, err := h.docService.ListDocuments(user.Username, page, pageSize)
	if err != nil {
		log.Error("List: failed to list documents", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"documents": docs,
			"total":     total,
			"page":      page,
			"size":      pageSize,
		},
	})
}

// Delete 处理删除文档的请求，连同向量记录与对象存储一起清理。
func (h *DocumentHandler) Delete(c *gin.Context) {
	docID, err := strconv.ParseUint(c.Param("docId"), 10, 64)
	if err != nil || docID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文档 ID"})
		return
	}

	user, err := h.getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	if err := h.docService.DeleteDocument(c.Request.Context(), uint(docID), user); err != nil {
		switch {
		case errors.Is(err, service.ErrDocumentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrDocumentForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			log.Warnf("Delete: failed for user %s, doc %d, err: %v", user.Username, docID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "文档删除失败"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档删除成功",
	})
}

// getUserFromContext 是一个辅助函数，用于从 Gin 上下文中获取完整的用户模型。
func (h *DocumentHandler) getUserFromContext(c *gin.Context) (*model.User, error) {
	claimsValue, _ := c.Get("claims")
	claims := claimsValue.(*token.CustomClaims)
	return h.userService.GetProfile(claims.Username)
}
