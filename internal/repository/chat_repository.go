// Package repository 提供了数据访问层的实现。
package repository

import (
	"time"

	"gorm.io/gorm"

	"doctalk-go/internal/model"
)

// ChatRepository 定义了会话与消息的持久化操作接口。
type ChatRepository interface {
	Create(chat *model.Chat) error
	FindByUserAndDocument(userID, documentID string) (*model.Chat, error)
	AppendMessage(msg *model.Message) error
	ListMessages(chatID string) ([]model.Message, error)
	RecentMessages(chatID string, limit int) ([]model.Message, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 创建一个新的会话记录。
func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

// FindByUserAndDocument 查找用户与文档之间的会话。
// 同一 (user, document) 存在多条时取最近更新的一条。
func (r *chatRepository) FindByUserAndDocument(userID, documentID string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.Where("user_id = ? AND document_id = ?", userID, documentID).
		Order("updated_at desc").First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// AppendMessage 追加一条消息并刷新会话的更新时间。
func (r *chatRepository) AppendMessage(msg *model.Message) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).Where("id = ?", msg.ChatID).
			Update("updated_at", time.Now()).Error
	})
}

// ListMessages 返回会话的全部消息，时间升序；同一时刻按 ID 升序保证顺序稳定。
func (r *chatRepository) ListMessages(chatID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("chat_id = ?", chatID).
		Order("created_at asc, id asc").Find(&messages).Error
	return messages, err
}

// RecentMessages 返回会话最近的 limit 条消息，按时间升序排列。
func (r *chatRepository) RecentMessages(chatID string, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("chat_id = ?", chatID).
		Order("created_at desc, id desc").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// 倒序取出后翻转为时间升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
