// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 用户角色常量。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 对应于数据库中的 'users' 表。
// 由入库任务自动创建的用户没有密码，不能登录。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255)" json:"-"`
	Role      string    `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
