package model

import "time"

// 文档处理状态。入库任务驱动状态机：
// pending -> embedding -> storing -> done，失败终态为 aborted。
const (
	DocStatusPending   = "pending"
	DocStatusEmbedding = "embedding"
	DocStatusStoring   = "storing"
	DocStatusDone      = "done"
	DocStatusAborted   = "aborted"
)

// Document 对应于数据库中的 'documents' 表。
// 它记录了每个被摄取文档的来源、归属和处理进度。
type Document struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username    string    `gorm:"type:varchar(100);not null;index" json:"username"`
	Scope       string    `gorm:"type:varchar(100);not null;index" json:"scope"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	ObjectName  string    `gorm:"type:varchar(255)" json:"objectName"` // MinIO 对象名，纯文本入库时为空
	Status      string    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ChunkCount  int       `gorm:"not null;default:0" json:"chunkCount"`
	StoredCount int       `gorm:"not null;default:0" json:"storedCount"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
