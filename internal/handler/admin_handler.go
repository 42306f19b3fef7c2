// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docbrain-go/internal/service"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/token"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 处理分页获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	userList, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    userList,
	})
}

// CreateScopeRequest 定义了创建知识库命名空间 API 的请求体结构。
type CreateScopeRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateScope 处理创建新知识库命名空间的请求。
func (h *AdminHandler) CreateScope(c *gin.Context) {
	var req CreateScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateScope: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	scope, err := h.adminService.CreateScope(req.Name, req.Description)
	if err != nil {
		if errors.Is(err, service.ErrScopeExists) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "scope 已存在", "data": nil})
			return
		}
		log.Error("CreateScope: Failed to create scope", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建 scope 失败", "data": nil})
		return
	}

	claimsValue, _ := c.Get("claims")
	claims := claimsValue.(*token.CustomClaims)
	log.Infof("Admin user '%s' created scope '%s'", claims.Username, req.Name)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": scope})
}

// ListScopes 处理获取所有知识库命名空间列表的请求。
func (h *AdminHandler) ListScopes(c *gin.Context) {
	scopes, err := h.adminService.ListScopes()
	if err != nil {
		log.Error("ListScopes: Failed to list scopes", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取 scope 列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": scopes})
}

// PurgeScope 处理清空某个 scope 下全部向量数据的请求。
func (h *AdminHandler) PurgeScope(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 名称", "data": nil})
		return
	}

	if err := h.adminService.PurgeScope(c.Request.Context(), name); err != nil {
		if err.Error() == "scope 不存在" {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "scope 不存在", "data": nil})
			return
		}
		log.Error("PurgeScope: Failed to purge scope", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空 scope 失败", "data": nil})
		return
	}

	claimsValue, _ := c.Get("claims")
	claims := claimsValue.(*token.CustomClaims)
	log.Infof("Admin user '%s' purged scope '%s'", claims.Username, name)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "scope 数据已清空", "data": nil})
}
