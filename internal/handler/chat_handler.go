// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"doctalk-go/internal/middleware"
	"doctalk-go/internal/model"
	"doctalk-go/internal/service"
	"doctalk-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理文档问答相关的请求：SSE 流、历史记录与 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 定义了发起一轮问答的请求体结构。
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// MessageDTO 是返回给前端的历史消息视图。
type MessageDTO struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Provenance model.Provenance `json:"provenance,omitempty"`
	CreatedAt  model.LocalTime  `json:"createdAt"`
}

// Chat 处理一轮文档问答，以 SSE 向客户端流式返回。
// 事件顺序：先 event: sources 推送引用来源，随后默认事件逐块下发增量，
// 成功以 event: done 收尾；失败时若流尚未开始则退回普通 JSON 错误，
// 否则以 event: error 收尾。
func (h *ChatHandler) Chat(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	documentID := c.Param("id")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：message 不能为空", "data": nil})
		return
	}

	stream := &sseStream{c: c}
	result, err := h.chatService.StreamAnswer(c.Request.Context(), userID, documentID, req.Message, stream)
	if err != nil {
		if !stream.started {
			respondError(c, err)
			return
		}
		// 流已经开始，只能以 error 事件收尾
		status, message, _ := classifyError(err)
		log.Errorf("Chat: 流式问答中断, documentId=%s, error: %v", documentID, err)
		stream.sendError(status, message)
		return
	}
	stream.sendDone(result)
}

// History 返回用户与该文档会话的全部消息，时间升序。
func (h *ChatHandler) History(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	documentID := c.Param("id")

	messages, err := h.chatService.History(userID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}

	dtos := make([]MessageDTO, 0, len(messages))
	for _, m := range messages {
		dtos = append(dtos, MessageDTO{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			Provenance: m.Provenance,
			CreatedAt:  model.LocalTime(m.CreatedAt),
		})
	}
	respondOK(c, "获取会话历史成功", dtos)
}

// sseStream 把回答流写成 Server-Sent Events。
type sseStream struct {
	c       *gin.Context
	started bool
}

// OnSources 满足 service.AnswerStream 接口，在任何增量之前推送引用来源。
func (s *sseStream) OnSources(sources []model.SourceRef) error {
	payload, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	return s.writeEvent("sources", string(payload))
}

// OnDelta 满足 service.AnswerStream 接口，逐块下发回答增量。
func (s *sseStream) OnDelta(delta string) error {
	return s.writeEvent("", sanitizeSSE(delta))
}

func (s *sseStream) sendDone(result *service.ChatResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Errorf("sendDone: 序列化结果失败: %v", err)
		return
	}
	_ = s.writeEvent("done", string(payload))
}

func (s *sseStream) sendError(code int, message string) {
	payload, err := json.Marshal(gin.H{"code": code, "message": message})
	if err != nil {
		return
	}
	_ = s.writeEvent("error", string(payload))
}

// writeEvent 写出一个 SSE 事件并立即冲刷，event 为空时走默认 message 事件。
func (s *sseStream) writeEvent(event, data string) error {
	s.ensureHeaders()
	var sb strings.Builder
	if event != "" {
		fmt.Fprintf(&sb, "event: %s\n", event)
	}
	fmt.Fprintf(&sb, "data: %s\n\n", data)
	if _, err := s.c.Writer.WriteString(sb.String()); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

// ensureHeaders 在第一个事件写出前设置 SSE 响应头。
func (s *sseStream) ensureHeaders() {
	if s.started {
		return
	}
	s.c.Header("Content-Type", "text/event-stream")
	s.c.Header("Cache-Control", "no-cache")
	s.c.Header("Connection", "keep-alive")
	s.c.Header("X-Accel-Buffering", "no")
	s.started = true
}

// sanitizeSSE 把增量里的换行折叠成字面 \n，保证单个事件不被拆散。
func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}

// wsFrame 是 WebSocket 问答的出站帧。
type wsFrame struct {
	Type      string            `json:"type"`
	Sources   []model.SourceRef `json:"sources,omitempty"`
	Content   string            `json:"content,omitempty"`
	ChatID    string            `json:"chatId,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
	Answer    string            `json:"answer,omitempty"`
	Code      int               `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

// wsQuestion 是 WebSocket 问答的入站帧。
type wsQuestion struct {
	DocumentID string `json:"documentId"`
	Message    string `json:"message"`
}

// wsStream 把回答流写成 WebSocket JSON 帧。
type wsStream struct {
	conn *websocket.Conn
}

// OnSources 满足 service.AnswerStream 接口。
func (s *wsStream) OnSources(sources []model.SourceRef) error {
	return s.conn.WriteJSON(wsFrame{Type: "sources", Sources: sources})
}

// OnDelta 满足 service.AnswerStream 接口。
func (s *wsStream) OnDelta(delta string) error {
	return s.conn.WriteJSON(wsFrame{Type: "delta", Content: delta})
}

// HandleWS 处理 WebSocket 问答连接：每收到一帧问题就执行一轮完整的问答流。
// 业务错误以 error 帧回发并保持连接；读写失败则关闭连接。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立, userId=%s", userID)

	for {
		var q wsQuestion
		if err := conn.ReadJSON(&q); err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		stream := &wsStream{conn: conn}
		result, err := h.chatService.StreamAnswer(c.Request.Context(), userID, q.DocumentID, q.Message, stream)
		if err != nil {
			status, message, _ := classifyError(err)
			log.Warnf("WebSocket 问答失败, documentId=%s, error: %v", q.DocumentID, err)
			if werr := conn.WriteJSON(wsFrame{Type: "error", Code: status, Message: message, Timestamp: time.Now().UnixMilli()}); werr != nil {
				break
			}
			continue
		}

		if werr := conn.WriteJSON(wsFrame{
			Type:      "done",
			ChatID:    result.ChatID,
			MessageID: result.MessageID,
			Answer:    result.Answer,
			Timestamp: time.Now().UnixMilli(),
		}); werr != nil {
			break
		}
	}
}
