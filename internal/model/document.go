// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentStatus 描述文档入库生命周期的状态。
type DocumentStatus string

// 状态只允许单向推进：pending → processing → ready|failed，
// 终态不可逆转，重新上传会产生新的文档记录。
const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Document 定义了 documents 表的 ORM 模型。
// 它记录了每个上传文档的元数据和入库状态，仅对 UserID 对应的属主可见。
type Document struct {
	ID            string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string         `gorm:"type:uuid;not null;index" json:"userId"`
	FileName      string         `gorm:"type:varchar(255);not null" json:"fileName"`
	MediaType     string         `gorm:"type:varchar(50);not null" json:"mediaType"`
	SizeBytes     *int64         `gorm:"default:null" json:"sizeBytes"`
	StorageKey    string         `gorm:"type:varchar(512);not null" json:"-"`
	Status        DocumentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ErrorMessage  string         `gorm:"type:text" json:"errorMessage,omitempty"`
	PageCount     *int           `gorm:"default:null" json:"pageCount"`
	FragmentCount *int           `gorm:"default:null" json:"fragmentCount"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
