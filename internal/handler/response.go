// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/service"
	"doctalk-go/pkg/log"
)

// respondOK 按项目统一的响应包裹返回成功结果。
func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": message,
		"data":    data,
	})
}

// respondCreated 与 respondOK 相同，但返回 201。
func respondCreated(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{
		"code":    http.StatusCreated,
		"message": message,
		"data":    data,
	})
}

// respondError 将业务错误映射为 HTTP 状态码与统一包裹。
// 内部错误的细节只进日志，对外给出通用提示。
func respondError(c *gin.Context, err error) {
	status, message, data := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("请求处理失败: %s %s, error: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		log.Warnf("请求被拒绝: %s %s, reason: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// classifyError 把业务错误分类到状态码、用户提示与附加数据。
func classifyError(err error) (int, string, interface{}) {
	var notReady *apperr.NotReadyError
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "未登录或登录已过期", nil
	case errors.As(err, &notReady):
		return http.StatusBadRequest,
			fmt.Sprintf("文档尚未就绪，当前状态：%s", notReady.Status),
			gin.H{"status": notReady.Status}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "文档不存在", nil
	case errors.Is(err, apperr.ErrNoRelevantContent):
		return http.StatusNotFound, "未在该文档中检索到相关内容，请换个问法或确认文档内容", nil
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, validationMessage(err), nil
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, "模型服务暂时不可用，请稍后重试", nil
	case errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict, err.Error(), nil
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error(), nil
	default:
		return http.StatusInternalServerError, "服务器内部错误", nil
	}
}

// validationMessage 去掉校验错误的哨兵前缀，只保留面向用户的原因。
func validationMessage(err error) string {
	msg := err.Error()
	prefix := apperr.ErrValidation.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}
