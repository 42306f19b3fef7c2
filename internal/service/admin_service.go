// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"docbrain-go/internal/model"
	"docbrain-go/internal/repository"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/log"
)

// ErrScopeExists 表示创建 scope 时名称已被占用。
var ErrScopeExists = errors.New("scope 已存在")

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Username  string          `json:"username"`
	Role      string          `json:"role"`
	CanLogin  bool            `json:"canLogin"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	ListUsers(page, size int) (*UserListResponse, error)
	CreateScope(name, description string) (*model.Scope, error)
	ListScopes() ([]model.Scope, error)
	// PurgeScope 清空一个 scope 下的全部向量记录与分块关联行。
	PurgeScope(ctx context.Context, name string) error
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo  repository.UserRepository
	scopeRepo repository.ScopeRepository
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	store     vectorstore.Store
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(
	userRepo repository.UserRepository,
	scopeRepo repository.ScopeRepository,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	store vectorstore.Store,
) AdminService {
	return &adminService{
		userRepo:  userRepo,
		scopeRepo: scopeRepo,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		store:     store,
	}
}

// ListUsers 以分页的形式返回用户列表。
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 10
	}

	offset := (page - 1) * size
	users, total, err := s.userRepo.FindWithPagination(offset, size)
	if err != nil {
		return nil, err
	}

	userResponses := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		userResponses = append(userResponses, UserDetailResponse{
			UserID:    u.ID,
			Username:  u.Username,
			Role:      u.Role,
			CanLogin:  u.Password != "",
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	totalPages := 0
	if total > 0 {
		totalPages = (int(total) + size - 1) / size
	}

	return &UserListResponse{
		Content:       userResponses,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}, nil
}

// CreateScope 创建一个新的知识库命名空间。
func (s *adminService) CreateScope(name, description string) (*model.Scope, error) {
	_, err := s.scopeRepo.FindByName(name)
	if err == nil {
		return nil, ErrScopeExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	scope := &model.Scope{Name: name, Description: description}
	if err := s.scopeRepo.Create(scope); err != nil {
		return nil, err
	}
	return scope, nil
}

// ListScopes 返回所有知识库命名空间。
func (s *adminService) ListScopes() ([]model.Scope, error) {
	return s.scopeRepo.FindAll()
}

// PurgeScope 清空一个 scope 下的全部向量记录与分块关联行。
// 文档行保留，状态不变，便于审计谁曾经入库过什么。
func (s *adminService) PurgeScope(ctx context.Context, name string) error {
	if _, err := s.scopeRepo.FindByName(name); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("scope 不存在")
		}
		return err
	}

	if err := s.store.DeleteByFilter(ctx, vectorstore.Filter{Scope: name}); err != nil {
		return err
	}
	if err := s.chunkRepo.DeleteByScope(name); err != nil {
		return err
	}

	log.Infof("[AdminService] 已清空 scope '%s' 的向量与分块数据", name)
	return nil
}
