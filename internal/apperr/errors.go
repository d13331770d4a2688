// Package apperr 定义对外可见的业务错误分类，处理层据此映射 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated 未能解析出调用者身份。
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound 文档不存在或不属于当前用户，对外不区分这两种情况。
	ErrNotFound = errors.New("document not found")

	// ErrNoRelevantContent 检索后没有任何片段超过相似度阈值。
	ErrNoRelevantContent = errors.New("no relevant content found")

	// ErrUpstreamUnavailable 上游模型服务（embedding 或生成）不可用。
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrValidation 请求内容不合法。
	ErrValidation = errors.New("invalid request")
)

// NotReadyError 表示文档尚未完成入库，携带当前状态供前端轮询。
type NotReadyError struct {
	Status string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("document is not ready: %s", e.Status)
}

// NotReady 构造一个指定状态的 NotReadyError。
func NotReady(status string) error {
	return &NotReadyError{Status: status}
}

// Upstream 包装一次上游调用失败，保证 errors.Is(err, ErrUpstreamUnavailable) 成立，
// 同时保留原始错误链供日志记录。
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}

// Invalid 构造一个带具体原因的校验错误，errors.Is(err, ErrValidation) 成立。
func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
