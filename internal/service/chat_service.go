// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/config"
	"doctalk-go/internal/model"
	"doctalk-go/internal/repository"
	"doctalk-go/pkg/embedding"
	"doctalk-go/pkg/llm"
	"doctalk-go/pkg/log"
	"doctalk-go/pkg/metrics"
)

// AnswerStream 是一次流式回答的接收端，由具体传输层（SSE、WebSocket）实现。
// OnSources 在任何增量之前恰好调用一次；OnDelta 返回错误会中止生成。
type AnswerStream interface {
	OnSources(sources []model.SourceRef) error
	OnDelta(delta string) error
}

// ChatResult 汇总一次问答的最终产出，在流结束后整体返回。
type ChatResult struct {
	ChatID    string            `json:"chatId"`
	MessageID string            `json:"messageId"`
	Answer    string            `json:"answer"`
	Sources   []model.SourceRef `json:"sources"`
}

// ChatService 定义了文档问答的业务操作接口。
type ChatService interface {
	StreamAnswer(ctx context.Context, userID, documentID, question string, stream AnswerStream) (*ChatResult, error)
	History(userID, documentID string) ([]model.Message, error)
}

type chatService struct {
	docRepo         repository.DocumentRepository
	fragmentRepo    repository.FragmentRepository
	chatRepo        repository.ChatRepository
	embeddingClient embedding.Client
	llmClient       llm.Client
	cfg             config.ChatConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	docRepo repository.DocumentRepository,
	fragmentRepo repository.FragmentRepository,
	chatRepo repository.ChatRepository,
	embeddingClient embedding.Client,
	llmClient llm.Client,
	cfg config.ChatConfig,
) ChatService {
	return &chatService{
		docRepo:         docRepo,
		fragmentRepo:    fragmentRepo,
		chatRepo:        chatRepo,
		embeddingClient: embeddingClient,
		llmClient:       llmClient,
		cfg:             cfg,
	}
}

// StreamAnswer 协调一轮完整的检索问答。
// 失败语义：检索阶段的失败不会留下任何消息；生成开始前用户消息已落库，
// 此后无论生成是否成功该提问都会保留；助手消息只在流成功结束后落库。
func (s *chatService) StreamAnswer(ctx context.Context, userID, documentID, question string, stream AnswerStream) (*ChatResult, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Invalid("问题不能为空")
	}

	// 1. 属主范围内加载文档，他人的文档与不存在的文档同样表现为未找到
	doc, err := s.docRepo.FindByIDForUser(documentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	// 2. 就绪门槛：未完成入库的文档拒绝问答，并带出当前状态
	if doc.Status != model.StatusReady {
		return nil, apperr.NotReady(string(doc.Status))
	}

	// 3. 问题向量化
	queryVec, err := s.embeddingClient.CreateEmbedding(ctx, question)
	if err != nil {
		return nil, err
	}

	// 4. 文档内余弦检索，阈值过滤后为空视为"无相关内容"
	hits, err := s.fragmentRepo.Search(doc.ID, queryVec, s.cfg.TopK, s.cfg.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("failed to search fragments: %w", err)
	}
	metrics.RetrievalResultsCount.Observe(float64(len(hits)))
	if len(hits) == 0 {
		return nil, apperr.ErrNoRelevantContent
	}
	log.Infof("[ChatService] 检索完成, documentId=%s, hits=%d, topSimilarity=%.3f", doc.ID, len(hits), hits[0].Similarity)

	// 5. 惰性创建会话并加载最近的历史（不含本轮提问）
	chat, err := s.getOrCreateChat(userID, doc)
	if err != nil {
		return nil, err
	}
	history, err := s.chatRepo.RecentMessages(chat.ID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	// 6. 生成开始前先落库用户消息，生成中途失败也保留这次提问
	userMsg := &model.Message{ChatID: chat.ID, Role: model.RoleUser, Content: question}
	if err := s.chatRepo.AppendMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	// 7. 在任何增量之前先推送引用来源
	sources := make([]model.SourceRef, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, model.SourceRef{FragmentID: h.FragmentID, Similarity: h.Similarity})
	}
	if err := stream.OnSources(sources); err != nil {
		metrics.ChatStreamsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to send sources: %w", err)
	}

	// 8. 组装上下文并拼接消息序列：system + 历史 + 本轮提问
	systemMsg := BuildContext(doc.FileName, hits, s.cfg.ContextMaxChars)
	messages := composeMessages(systemMsg, history, question)

	// 9. 单遍消费生成流：逐块转发给调用方，同时在客户端内累积全文
	answer, err := s.llmClient.StreamChat(ctx, messages, stream.OnDelta)
	if err != nil {
		metrics.ChatStreamsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// 10. 流成功结束后落库助手消息及其引用来源
	assistantMsg := &model.Message{
		ChatID:     chat.ID,
		Role:       model.RoleAssistant,
		Content:    answer,
		Provenance: model.Provenance(sources),
	}
	if err := s.chatRepo.AppendMessage(assistantMsg); err != nil {
		metrics.ChatStreamsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	metrics.ChatStreamsTotal.WithLabelValues("ok").Inc()
	log.Infof("[ChatService] 问答完成, chatId=%s, answerChars=%d", chat.ID, len([]rune(answer)))
	return &ChatResult{
		ChatID:    chat.ID,
		MessageID: assistantMsg.ID,
		Answer:    answer,
		Sources:   sources,
	}, nil
}

// History 返回用户与文档之间会话的全部消息，时间升序。
// 会话尚未建立时返回空列表而不是错误。
func (s *chatService) History(userID, documentID string) ([]model.Message, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}

	if _, err := s.docRepo.FindByIDForUser(documentID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	chat, err := s.chatRepo.FindByUserAndDocument(userID, documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []model.Message{}, nil
		}
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	return s.chatRepo.ListMessages(chat.ID)
}

// getOrCreateChat 取用户与文档之间的会话，不存在则以文档名为标题创建。
func (s *chatService) getOrCreateChat(userID string, doc *model.Document) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByUserAndDocument(userID, doc.ID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}

	chat = &model.Chat{UserID: userID, DocumentID: doc.ID, Title: doc.FileName}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// composeMessages 拼接发给模型的消息序列。
func composeMessages(systemMsg string, history []model.Message, question string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: question})
	return msgs
}
