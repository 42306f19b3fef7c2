package model

import "time"

// DocumentChunk 对应于数据库中的 'document_chunks' 表。
// 每行把文档的一个分块与向量存储中的记录 ID 关联起来。
type DocumentChunk struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID uint      `gorm:"not null;index" json:"documentId"`
	ChunkIndex int       `gorm:"not null" json:"chunkIndex"`
	VectorID   string    `gorm:"type:varchar(64);not null" json:"vectorId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
