package repository

import (
	"gorm.io/gorm"

	"docbrain-go/internal/model"
)

// ScopeRepository 接口定义了知识库命名空间的持久化操作。
type ScopeRepository interface {
	Create(scope *model.Scope) error
	FindByName(name string) (*model.Scope, error)
	// GetOrCreate 按名称查找 scope，不存在则创建。
	GetOrCreate(name string) (*model.Scope, error)
	FindAll() ([]model.Scope, error)
}

type scopeRepository struct {
	db *gorm.DB
}

// NewScopeRepository 创建一个新的 ScopeRepository 实例。
func NewScopeRepository(db *gorm.DB) ScopeRepository {
	return &scopeRepository{db: db}
}

// Create 在数据库中创建一个新的 scope 记录。
func (r *scopeRepository) Create(scope *model.Scope) error {
	return r.db.Create(scope).Error
}

// FindByName 根据名称查找一个 scope。
func (r *scopeRepository) FindByName(name string) (*model.Scope, error) {
	var scope model.Scope
	err := r.db.Where("name = ?", name).First(&scope).Error
	if err != nil {
		return nil, err
	}
	return &scope, nil
}

// GetOrCreate 按名称查找 scope，不存在则创建。入库任务依赖它自动建立命名空间。
func (r *scopeRepository) GetOrCreate(name string) (*model.Scope, error) {
	scope := model.Scope{Name: name}
	err := r.db.Where("name = ?", name).FirstOrCreate(&scope).Error
	if err != nil {
		return nil, err
	}
	return &scope, nil
}

// FindAll 检索所有 scope 记录。
func (r *scopeRepository) FindAll() ([]model.Scope, error) {
	var scopes []model.Scope
	err := r.db.Order("name asc").Find(&scopes).Error
	return scopes, err
}
