package repository

import (
	"gorm.io/gorm"

	"docbrain-go/internal/model"
)

// DocumentRepository 接口定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id uint) (*model.Document, error)
	FindByUserWithPagination(username string, offset, limit int) ([]model.Document, int64, error)
	// UpdateStatus 更新文档的处理状态。
	UpdateStatus(id uint, status string) error
	// UpdateProgress 更新文档的状态与分块统计。
	UpdateProgress(id uint, status string, chunkCount, storedCount int) error
	Delete(id uint) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一个新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找一个文档。
func (r *documentRepository) FindByID(id uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.First(&doc, id).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUserWithPagination 分页检索某用户的文档，按创建时间倒序。
func (r *documentRepository) FindByUserWithPagination(username string, offset, limit int) ([]model.Document, int64, error) {
	var docs []model.Document
	var total int64

	db := r.db.Model(&model.Document{}).Where("username = ?", username)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// UpdateStatus 更新文档的处理状态。
func (r *documentRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("status", status).Error
}

// UpdateProgress 更新文档的状态与分块统计。
func (r *documentRepository) UpdateProgress(id uint, status string, chunkCount, storedCount int) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"chunk_count":  chunkCount,
			"stored_count": storedCount,
		}).Error
}

// Delete 删除一个文档记录。
func (r *documentRepository) Delete(id uint) error {
	return r.db.Delete(&model.Document{}, id).Error
}
