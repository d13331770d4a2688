// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat 对应于数据库中的 chats 表。
// 一个用户对一个文档至多维持一个活跃会话，首次提问时惰性创建；
// 查找采用"取最近更新的一条"的语义，不依赖数据库唯一约束。
type Chat struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string    `gorm:"type:uuid;not null;index:idx_chats_user_document,priority:1" json:"userId"`
	DocumentID string    `gorm:"type:uuid;not null;index:idx_chats_user_document,priority:2" json:"documentId"`
	Title      string    `gorm:"type:varchar(255)" json:"title"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
