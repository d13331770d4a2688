package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Fragment 对应于数据库中的 fragments 表。
// 一行是文档切分后得到的一个检索单元，ordinal 在同一文档内从 0 开始连续递增。
// embedding 由入库流水线写入，之后除补齐 embedding 外不再变更；
// 文档删除时级联删除其全部片段。
type Fragment struct {
	ID         string           `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID string           `gorm:"type:uuid;not null;index:idx_fragments_doc_ordinal,priority:1" json:"documentId"`
	Ordinal    int              `gorm:"not null;index:idx_fragments_doc_ordinal,priority:2" json:"ordinal"`
	Content    string           `gorm:"type:text;not null" json:"content"`
	Embedding  *pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	PageNumber *int             `gorm:"default:null" json:"pageNumber"`
	Metadata   JSONMap          `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"createdAt"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Fragment) TableName() string {
	return "fragments"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (f *Fragment) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// FragmentHit 是一次向量检索命中的片段及其相似度得分。
type FragmentHit struct {
	FragmentID string  `gorm:"column:id" json:"fragmentId"`
	Ordinal    int     `gorm:"column:ordinal" json:"ordinal"`
	Content    string  `gorm:"column:content" json:"content"`
	PageNumber *int    `gorm:"column:page_number" json:"pageNumber,omitempty"`
	Similarity float64 `gorm:"column:similarity" json:"similarity"`
}
