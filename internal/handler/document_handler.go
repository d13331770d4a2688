// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"doctalk-go/internal/middleware"
	"doctalk-go/internal/service"
	"doctalk-go/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// CreateDocumentRequest 定义了创建上传意向 API 的请求体结构。
type CreateDocumentRequest struct {
	FileName  string `json:"file_name" binding:"required"`
	MediaType string `json:"media_type" binding:"required"`
	SizeBytes int64  `json:"size_bytes" binding:"required"`
}

// Create 创建文档记录并返回客户端直传用的预签名链接。
func (h *DocumentHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)

	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateDocument: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：file_name、media_type、size_bytes 均为必填", "data": nil})
		return
	}

	intent, err := h.docService.CreateUploadIntent(c.Request.Context(), userID, req.FileName, req.MediaType, req.SizeBytes)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, "上传意向创建成功", intent)
}

// Complete 在客户端直传完成后触发文档解析。
func (h *DocumentHandler) Complete(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	documentID := c.Param("id")

	doc, err := h.docService.CompleteUpload(c.Request.Context(), userID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "文件已接收，解析任务已排队",
		"data":    doc,
	})
}

// List 返回当前用户的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)

	docs, err := h.docService.ListDocuments(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "获取文档列表成功", docs)
}

// Get 返回单个文档的元数据，供前端轮询入库状态。
func (h *DocumentHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	documentID := c.Param("id")

	doc, err := h.docService.GetDocument(userID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "获取文档成功", doc)
}

// Delete 删除一个文档及其全部衍生数据。
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	documentID := c.Param("id")

	if err := h.docService.DeleteDocument(c.Request.Context(), userID, documentID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "文档删除成功", nil)
}

// Download 生成文档原件的临时下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	documentID := c.Param("id")

	info, err := h.docService.GenerateDownloadURL(c.Request.Context(), userID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "文件下载链接生成成功", info)
}
