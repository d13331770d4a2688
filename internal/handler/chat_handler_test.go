package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/middleware"
	"doctalk-go/internal/model"
	"doctalk-go/internal/service"
)

// fakeChatService 用测试提供的脚本驱动回答流。
type fakeChatService struct {
	run        func(stream service.AnswerStream) (*service.ChatResult, error)
	calls      int
	history    []model.Message
	historyErr error
}

func (f *fakeChatService) StreamAnswer(_ context.Context, _, _, _ string, stream service.AnswerStream) (*service.ChatResult, error) {
	f.calls++
	return f.run(stream)
}

func (f *fakeChatService) History(_, _ string) ([]model.Message, error) {
	return f.history, f.historyErr
}

func newChatContext(t *testing.T, method, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/api/v1/documents/doc-1/chat", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "doc-1"}}
	c.Set(middleware.ContextUserIDKey, "user-1")
	return c, w
}

func TestChatHandler_Chat_StreamsSourcesDeltasAndDone(t *testing.T) {
	sources := []model.SourceRef{{FragmentID: "frag-1", Similarity: 0.92}}
	svc := &fakeChatService{run: func(stream service.AnswerStream) (*service.ChatResult, error) {
		if err := stream.OnSources(sources); err != nil {
			return nil, err
		}
		if err := stream.OnDelta("这份文档"); err != nil {
			return nil, err
		}
		if err := stream.OnDelta("讲的是测试。"); err != nil {
			return nil, err
		}
		return &service.ChatResult{ChatID: "chat-1", MessageID: "msg-2", Answer: "这份文档讲的是测试。", Sources: sources}, nil
	}}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodPost, `{"message":"这份文档讲了什么？"}`)
	h.Chat(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	body := w.Body.String()
	srcIdx := strings.Index(body, "event: sources\n")
	deltaIdx := strings.Index(body, "data: 这份文档\n\n")
	doneIdx := strings.Index(body, "event: done\n")
	require.NotEqual(t, -1, srcIdx)
	require.NotEqual(t, -1, deltaIdx)
	require.NotEqual(t, -1, doneIdx)
	// 引用来源先于增量，done 收尾
	assert.Less(t, srcIdx, deltaIdx)
	assert.Less(t, deltaIdx, doneIdx)
	assert.Contains(t, body, `"fragmentId":"frag-1"`)
	assert.Contains(t, body, `"chatId":"chat-1"`)
	assert.Contains(t, body, `"answer":"这份文档讲的是测试。"`)
}

func TestChatHandler_Chat_PreStreamErrorIsPlainJSON(t *testing.T) {
	svc := &fakeChatService{run: func(service.AnswerStream) (*service.ChatResult, error) {
		return nil, apperr.ErrNoRelevantContent
	}}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodPost, `{"message":"无关的问题"}`)
	h.Chat(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, w.Body.String(), "event:")

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, http.StatusNotFound, envelope.Code)
	assert.Contains(t, envelope.Message, "未在该文档中检索到相关内容")
}

func TestChatHandler_Chat_MidStreamErrorEndsWithErrorEvent(t *testing.T) {
	svc := &fakeChatService{run: func(stream service.AnswerStream) (*service.ChatResult, error) {
		if err := stream.OnSources([]model.SourceRef{{FragmentID: "frag-1", Similarity: 0.9}}); err != nil {
			return nil, err
		}
		if err := stream.OnDelta("第一段"); err != nil {
			return nil, err
		}
		return nil, apperr.Upstream("stream chat", errors.New("connection reset"))
	}}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodPost, `{"message":"问题"}`)
	h.Chat(c)

	// 响应头已随首个事件发出，只能以 error 事件收尾
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "data: 第一段")
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, `"code":500`)
	assert.NotContains(t, body, "event: done")
	assert.Greater(t, strings.Index(body, "event: error"), strings.Index(body, "data: 第一段"))
}

func TestChatHandler_Chat_RejectsMissingMessage(t *testing.T) {
	svc := &fakeChatService{run: func(service.AnswerStream) (*service.ChatResult, error) {
		return nil, nil
	}}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodPost, `{}`)
	h.Chat(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)
}

func TestChatHandler_Chat_EscapesNewlinesInDeltas(t *testing.T) {
	svc := &fakeChatService{run: func(stream service.AnswerStream) (*service.ChatResult, error) {
		if err := stream.OnSources(nil); err != nil {
			return nil, err
		}
		if err := stream.OnDelta("第一行\n第二行"); err != nil {
			return nil, err
		}
		return &service.ChatResult{ChatID: "chat-1", MessageID: "msg-2", Answer: "第一行\n第二行"}, nil
	}}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodPost, `{"message":"换行测试"}`)
	h.Chat(c)

	// 字面 \n 保证单个增量不会被拆成多个 SSE 事件
	assert.Contains(t, w.Body.String(), `data: 第一行\n第二行`)
}

func TestChatHandler_History_ReturnsEnvelope(t *testing.T) {
	now := time.Now()
	svc := &fakeChatService{history: []model.Message{
		{ID: "msg-1", ChatID: "chat-1", Role: model.RoleUser, Content: "问题", CreatedAt: now},
		{
			ID: "msg-2", ChatID: "chat-1", Role: model.RoleAssistant, Content: "回答",
			Provenance: model.Provenance{{FragmentID: "frag-1", Similarity: 0.9}},
			CreatedAt:  now.Add(time.Second),
		},
	}}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodGet, "")
	h.History(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Code int                      `json:"code"`
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, http.StatusOK, envelope.Code)
	require.Len(t, envelope.Data, 2)
	assert.Equal(t, "user", envelope.Data[0]["role"])
	assert.Equal(t, "问题", envelope.Data[0]["content"])
	_, hasProv := envelope.Data[0]["provenance"]
	assert.False(t, hasProv, "用户消息不携带引用来源")
	assert.NotNil(t, envelope.Data[1]["provenance"])
}

func TestChatHandler_History_MapsServiceError(t *testing.T) {
	svc := &fakeChatService{historyErr: apperr.ErrNotFound}
	h := NewChatHandler(svc)

	c, w := newChatContext(t, http.MethodGet, "")
	h.History(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "文档不存在")
}
