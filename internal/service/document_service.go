// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/config"
	"doctalk-go/internal/model"
	"doctalk-go/internal/repository"
	"doctalk-go/pkg/log"
	"doctalk-go/pkg/storage"
	"doctalk-go/pkg/tasks"
)

// ObjectStore 是文档服务需要的对象存储能力，*storage.ObjectStore 实现了它。
type ObjectStore interface {
	PresignedPutURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	StatObject(ctx context.Context, objectName string) (int64, error)
	RemoveObject(ctx context.Context, objectName string) error
}

// TaskProducer 投递文档解析任务，*kafka.Producer 实现了它。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// UploadIntentDTO 封装创建文档后返回给前端的直传信息。
type UploadIntentDTO struct {
	Document  *model.Document `json:"document"`
	UploadURL string          `json:"uploadUrl"`
}

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	SizeBytes   *int64 `json:"sizeBytes"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
// 所有操作都是属主范围内的：他人的文档与不存在的文档同样表现为未找到。
type DocumentService interface {
	CreateUploadIntent(ctx context.Context, userID, fileName, mediaType string, sizeBytes int64) (*UploadIntentDTO, error)
	CompleteUpload(ctx context.Context, userID, documentID string) (*model.Document, error)
	ListDocuments(userID string) ([]model.Document, error)
	GetDocument(userID, documentID string) (*model.Document, error)
	DeleteDocument(ctx context.Context, userID, documentID string) error
	GenerateDownloadURL(ctx context.Context, userID, documentID string) (*DownloadInfoDTO, error)
}

type documentService struct {
	docRepo   repository.DocumentRepository
	store     ObjectStore
	producer  TaskProducer
	minioCfg  config.MinIOConfig
	ingestCfg config.IngestConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, store ObjectStore, producer TaskProducer, minioCfg config.MinIOConfig, ingestCfg config.IngestConfig) DocumentService {
	return &documentService{
		docRepo:   docRepo,
		store:     store,
		producer:  producer,
		minioCfg:  minioCfg,
		ingestCfg: ingestCfg,
	}
}

// CreateUploadIntent 创建一条 pending 状态的文档记录，并返回客户端直传用的预签名链接。
func (s *documentService) CreateUploadIntent(ctx context.Context, userID, fileName, mediaType string, sizeBytes int64) (*UploadIntentDTO, error) {
	// 1. 校验文件名、类型与大小
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, apperr.Invalid("文件名不能为空")
	}
	mediaType = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(mediaType), "."))
	if !s.isAllowedType(mediaType) {
		return nil, apperr.Invalid(fmt.Sprintf("不支持的文件类型 %q，支持：%s", mediaType, strings.Join(s.ingestCfg.AllowedTypes, "/")))
	}
	if sizeBytes <= 0 {
		return nil, apperr.Invalid("文件大小必须大于 0")
	}
	if sizeBytes > s.ingestCfg.MaxFileSizeBytes {
		return nil, apperr.Invalid(fmt.Sprintf("文件大小超出限制（最大 %d 字节）", s.ingestCfg.MaxFileSizeBytes))
	}

	// 2. 先生成文档 ID，以便拼出对象存储路径
	docID := uuid.NewString()
	doc := &model.Document{
		ID:         docID,
		UserID:     userID,
		FileName:   fileName,
		MediaType:  mediaType,
		SizeBytes:  &sizeBytes,
		StorageKey: fmt.Sprintf("uploads/%s/%s/%s", userID, docID, fileName),
		Status:     model.StatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	// 3. 生成直传链接
	expiry := time.Duration(s.minioCfg.PresignExpireMinutes) * time.Minute
	uploadURL, err := s.store.PresignedPutURL(ctx, doc.StorageKey, expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload url: %w", err)
	}

	log.Infof("[DocumentService] 创建上传意向, documentId=%s, fileName=%s, size=%d", doc.ID, fileName, sizeBytes)
	return &UploadIntentDTO{Document: doc, UploadURL: uploadURL}, nil
}

// CompleteUpload 在客户端直传完成后调用：核实对象已落到存储，再投递解析任务。
// 文档状态保持 pending，由后台消费者推进到 processing。
func (s *documentService) CompleteUpload(ctx context.Context, userID, documentID string) (*model.Document, error) {
	// 1. 属主校验
	doc, err := s.docRepo.FindByIDForUser(documentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Status != model.StatusPending {
		return nil, apperr.Invalid(fmt.Sprintf("文档已提交处理，当前状态：%s", doc.Status))
	}

	// 2. 以对象存储的 stat 结果核实并更新实际大小
	size, err := s.store.StatObject(ctx, doc.StorageKey)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, apperr.Invalid("未在存储中找到已上传的文件，请先完成上传")
		}
		return nil, fmt.Errorf("failed to stat uploaded object: %w", err)
	}
	if size > s.ingestCfg.MaxFileSizeBytes {
		return nil, apperr.Invalid(fmt.Sprintf("文件大小超出限制（最大 %d 字节）", s.ingestCfg.MaxFileSizeBytes))
	}
	if err := s.docRepo.UpdateSize(doc.ID, size); err != nil {
		return nil, fmt.Errorf("failed to update document size: %w", err)
	}
	doc.SizeBytes = &size

	// 3. 投递解析任务
	task := tasks.IngestTask{
		DocumentID: doc.ID,
		StorageKey: doc.StorageKey,
		FileName:   doc.FileName,
		UserID:     doc.UserID,
	}
	if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue ingest task: %w", err)
	}

	log.Infof("[DocumentService] 上传完成并已投递解析任务, documentId=%s, size=%d", doc.ID, size)
	return doc, nil
}

// ListDocuments 获取用户自己的全部文档，按创建时间倒序。
func (s *documentService) ListDocuments(userID string) ([]model.Document, error) {
	return s.docRepo.FindByUserID(userID)
}

// GetDocument 获取单个文档的元数据，供前端轮询入库状态。
func (s *documentService) GetDocument(userID, documentID string) (*model.Document, error) {
	doc, err := s.docRepo.FindByIDForUser(documentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// DeleteDocument 删除一个文档。
// 对象存储删除失败只记录日志，数据库记录照常删除，片段与会话由级联清理。
func (s *documentService) DeleteDocument(ctx context.Context, userID, documentID string) error {
	doc, err := s.docRepo.FindByIDForUser(documentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	if err := s.store.RemoveObject(ctx, doc.StorageKey); err != nil && !storage.IsNotExist(err) {
		log.Errorf("[DocumentService] 删除存储对象失败, documentId=%s, key=%s, error: %v", doc.ID, doc.StorageKey, err)
	}

	if err := s.docRepo.Delete(doc.ID, userID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}
	log.Infof("[DocumentService] 文档已删除, documentId=%s", doc.ID)
	return nil
}

// GenerateDownloadURL 生成文档原件的临时下载链接。
func (s *documentService) GenerateDownloadURL(ctx context.Context, userID, documentID string) (*DownloadInfoDTO, error) {
	doc, err := s.docRepo.FindByIDForUser(documentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	expiry := time.Duration(s.minioCfg.PresignExpireMinutes) * time.Minute
	downloadURL, err := s.store.PresignedGetURL(ctx, doc.StorageKey, expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download url: %w", err)
	}

	return &DownloadInfoDTO{
		FileName:    doc.FileName,
		DownloadURL: downloadURL,
		SizeBytes:   doc.SizeBytes,
	}, nil
}

func (s *documentService) isAllowedType(mediaType string) bool {
	for _, t := range s.ingestCfg.AllowedTypes {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}
