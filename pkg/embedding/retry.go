package embedding

import (
	"context"
	"time"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/config"
	"doctalk-go/pkg/retry"
)

type retryingClient struct {
	inner Client
	cfg   retry.Config
}

// NewRetryingClient 用有界指数退避重试包装底层客户端。
// 只有上游不可用类错误会被重试，维度不匹配等配置错误直接返回。
func NewRetryingClient(inner Client, rc config.RetryConfig) Client {
	cfg := retry.DefaultConfig()
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialDelayMS > 0 {
		cfg.InitialDelay = time.Duration(rc.InitialDelayMS) * time.Millisecond
	}
	if rc.MaxDelayMS > 0 {
		cfg.MaxDelay = time.Duration(rc.MaxDelayMS) * time.Millisecond
	}
	cfg.RetryableErrors = []error{apperr.ErrUpstreamUnavailable}
	return &retryingClient{inner: inner, cfg: cfg}
}

func (c *retryingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return retry.DoWithResult(ctx, c.cfg, func() ([]float32, error) {
		return c.inner.CreateEmbedding(ctx, text)
	})
}
