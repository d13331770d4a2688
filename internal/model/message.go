package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色，对话历史只包含这两种。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SourceRef 记录一条回答所引用的片段及其相似度。
type SourceRef struct {
	FragmentID string  `json:"fragmentId"`
	Similarity float64 `json:"similarity"`
}

// Provenance 是按引用顺序排列的 SourceRef 列表，以 jsonb 形式落库。
type Provenance []SourceRef

// Value 实现 driver.Valuer，将引用列表序列化为 jsonb。
func (p Provenance) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner，从 jsonb 反序列化引用列表。
func (p *Provenance) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported provenance type %T", value)
	}
}

// Message 对应于数据库中的 messages 表。
// 会话内的消息只追加不修改，按创建时间构成规范的对话历史；
// user 消息在生成开始前落库，assistant 消息仅在流式生成成功结束后落库。
type Message struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID     string     `gorm:"type:uuid;not null;index" json:"chatId"`
	Role       string     `gorm:"type:varchar(16);not null" json:"role"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Provenance Provenance `gorm:"type:jsonb" json:"provenance,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"createdAt"`

	Chat *Chat `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
