package repository

import (
	"gorm.io/gorm"

	"docbrain-go/internal/model"
)

// ChunkRepository 接口定义了分块与向量记录关联行的持久化操作。
type ChunkRepository interface {
	BatchCreate(chunks []model.DocumentChunk) error
	FindByDocumentID(documentID uint) ([]model.DocumentChunk, error)
	DeleteByDocumentID(documentID uint) error
	// DeleteByScope 删除某 scope 下所有文档的分块关联行。
	DeleteByScope(scope string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量写入分块关联行。空列表是 no-op。
func (r *chunkRepository) BatchCreate(chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.Create(&chunks).Error
}

// FindByDocumentID 检索某文档的全部分块关联行，按分块序号排序。
func (r *chunkRepository) FindByDocumentID(documentID uint) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.Where("document_id = ?", documentID).
		Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// DeleteByDocumentID 删除某文档的全部分块关联行。
func (r *chunkRepository) DeleteByDocumentID(documentID uint) error {
	return r.db.Where("document_id = ?", documentID).
		Delete(&model.DocumentChunk{}).Error
}

// DeleteByScope 通过子查询删除某 scope 下所有文档的分块关联行。
func (r *chunkRepository) DeleteByScope(scope string) error {
	sub := r.db.Model(&model.Document{}).Select("id").Where("scope = ?", scope)
	return r.db.Where("document_id IN (?)", sub).
		Delete(&model.DocumentChunk{}).Error
}
