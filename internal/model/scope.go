package model

import "time"

// Scope 对应于数据库中的 'scopes' 表。
// Scope 是扁平的知识库命名空间，入库时按名称 get-or-create。
type Scope struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Scope) TableName() string {
	return "scopes"
}
