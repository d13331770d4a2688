// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/config"
	"doctalk-go/pkg/log"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type openAIClient struct {
	api     *openai.Client
	model   string
	dims    int
	timeout time.Duration
}

// NewClient creates a new embedding client backed by an OpenAI-compatible API.
func NewClient(cfg config.EmbeddingConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// CreateEmbedding 调用 Embedding API 将文本转换为固定维度的向量。
// 上游失败包装为 apperr.ErrUpstreamUnavailable 交由调用方决定重试；
// 返回维度与配置不一致属于配置错误，直接报错。
func (c *openAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(c.model),
		Input:      []string{text},
		Dimensions: c.dims,
	})
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败: %v", err)
		return nil, apperr.Upstream("embedding", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, apperr.Upstream("embedding", fmt.Errorf("received empty embedding"))
	}

	vec := resp.Data[0].Embedding
	if c.dims > 0 && len(vec) != c.dims {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, configured %d", len(vec), c.dims)
	}
	return vec, nil
}
