// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"gorm.io/gorm"

	"doctalk-go/internal/model"
)

// DocumentRepository 接口定义了文档元数据的持久化操作。
// 所有按用户查询的方法都以 user_id 作为过滤条件，越权的文档 ID 表现为记录不存在。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByIDForUser(id, userID string) (*model.Document, error)
	FindByUserID(userID string) ([]model.Document, error)
	UpdateSize(id string, sizeBytes int64) error
	MarkProcessing(id string) error
	MarkReady(id string, pageCount, fragmentCount int) error
	MarkFailed(id string, errMsg string) error
	Delete(id, userID string) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一个新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找文档，不做属主过滤，仅供后台处理任务使用。
func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByIDForUser 根据 ID 和属主查找文档。
func (r *documentRepository) FindByIDForUser(id, userID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUserID 查找指定用户的所有文档，按创建时间倒序。
func (r *documentRepository) FindByUserID(userID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// UpdateSize 更新文档的实际字节大小（以对象存储的 stat 结果为准）。
func (r *documentRepository) UpdateSize(id string, sizeBytes int64) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("size_bytes", sizeBytes).Error
}

// MarkProcessing 将文档状态置为 processing。
func (r *documentRepository) MarkProcessing(id string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.StatusProcessing,
			"error_message": "",
		}).Error
}

// MarkReady 将文档状态置为 ready 并记录解析产出的统计信息。
// pageCount 为 0 表示提取器未能给出页数，保留为 NULL。
func (r *documentRepository) MarkReady(id string, pageCount, fragmentCount int) error {
	updates := map[string]interface{}{
		"status":         model.StatusReady,
		"fragment_count": fragmentCount,
		"error_message":  "",
	}
	if pageCount > 0 {
		updates["page_count"] = pageCount
	}
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(updates).Error
}

// MarkFailed 将文档状态置为 failed 并记录失败原因。
func (r *documentRepository) MarkFailed(id string, errMsg string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_message": errMsg,
		}).Error
}

// Delete 删除指定用户的文档记录，关联的片段与会话由外键级联删除。
func (r *documentRepository) Delete(id, userID string) error {
	return r.db.Where("id = ? AND user_id = ?", id, userID).
		Delete(&model.Document{}).Error
}
