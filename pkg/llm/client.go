// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/config"
	"doctalk-go/pkg/log"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client defines the interface for a streaming LLM client.
type Client interface {
	// StreamChat 以 role-based 消息调用聊天接口。每个文本增量经 onDelta 转发一次，
	// 同时在本地累积，流正常结束后返回完整回答。转发与累积出自同一次遍历，
	// 不存在对流的二次消费。
	StreamChat(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)
}

type openAIClient struct {
	api *openai.Client
	cfg config.LLMConfig
}

// NewClient creates a new LLM client backed by an OpenAI-compatible API.
func NewClient(cfg config.LLMConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		api: openai.NewClientWithConfig(clientCfg),
		cfg: cfg,
	}
}

// StreamChat 建立流式生成调用并单遍消费。
// 语义约定：
//   - 首个增量产生前的失败包装为 apperr.ErrUpstreamUnavailable；
//   - 中途失败或上游未送出结束标记即断流时，丢弃已累积的部分输出并报错，
//     由调用方决定对外表现（不落库截断的回答）；
//   - ctx 取消（调用方断开或超时）会关闭上游连接，不遗留挂起的请求。
func (c *openAIClient) StreamChat(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	if timeout := time.Duration(c.cfg.StreamTimeoutSeconds) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	// 从配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		req.Temperature = float32(c.cfg.Generation.Temperature)
	}
	if c.cfg.Generation.TopP != 0 {
		req.TopP = float32(c.cfg.Generation.TopP)
	}
	if c.cfg.Generation.MaxTokens != 0 {
		req.MaxTokens = c.cfg.Generation.MaxTokens
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Errorf("[LLMClient] 建立生成流失败: %v", err)
		return "", apperr.Upstream("generation", err)
	}
	defer stream.Close()

	var sb strings.Builder
	finished := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Errorf("[LLMClient] 生成流中途失败: %v", err)
			return "", apperr.Upstream("generation", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finished = true
		}

		delta := choice.Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if err := onDelta(delta); err != nil {
			// 下游写失败（通常是调用方断开），停止拉流并释放上游连接。
			return "", fmt.Errorf("forward delta: %w", err)
		}
	}

	if !finished {
		// 上游没有给出结束标记就断流，按上游故障处理。
		log.Warnf("[LLMClient] 生成流提前终止，丢弃 %d 字符的部分输出", sb.Len())
		return "", apperr.Upstream("generation", errors.New("stream ended without finish marker"))
	}
	return sb.String(), nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
