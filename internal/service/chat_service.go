// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"docbrain-go/internal/config"
	"docbrain-go/internal/model"
	"docbrain-go/internal/repository"
	"docbrain-go/pkg/llm"
	"docbrain-go/pkg/log"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, query string, user *model.User, ws *websocket.Conn, shouldStop func() bool) error
}

type chatService struct {
	ragService       RAGService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	llmCfg           config.LLMConfig
	contextTopK      int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	ragService RAGService,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	llmCfg config.LLMConfig,
	ragCfg config.RAGConfig,
) ChatService {
	contextTopK := ragCfg.ChatContextTopK
	if contextTopK <= 0 {
		contextTopK = 10
	}
	return &chatService{
		ragService:       ragService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		llmCfg:           llmCfg,
		contextTopK:      contextTopK,
	}
}

// StreamResponse 协调 RAG 流程并流式传输 LLM 响应。
func (s *chatService) StreamResponse(ctx context.Context, query string, user *model.User, ws *websocket.Conn, shouldStop func() bool) error {
	// 1. 检索调用方自己的知识库作为上下文。检索失败不中断对话，仅缺少上下文
	results, err := s.ragService.QueryDocuments(ctx, query, QueryOptions{
		Username:  user.Username,
		TopK:      s.contextTopK,
		Threshold: -1, // 使用配置默认阈值
	})
	if err != nil {
		log.Warnf("[ChatService] 检索上下文失败, 将在无上下文模式下回答: %v", err)
		results = nil
	}

	// 2. 构建上下文与 system 消息、历史
	contextText := s.buildContextText(results)
	systemMsg := s.buildSystemMessage(contextText)
	history, err := s.loadHistory(ctx, user.ID)
	if err != nil {
		log.Errorf("[ChatService] 加载对话历史失败: %v", err)
		history = []model.ChatMessage{}
	}
	messages := s.composeMessages(systemMsg, history, query)

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	// 3. 调用 LLM 客户端以流式传输响应
	var llmMsgs []llm.Message
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	if err := s.llmClient.StreamChatMessages(ctx, llmMsgs, nil, interceptor); err != nil {
		return err
	}

	// 4. 发送完成通知，并将对话保存到 Redis
	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if len(fullAnswer) > 0 {
		// 使用后台上下文：即使原始请求被取消，也保存已生成的答案
		if err := s.addMessageToConversation(context.Background(), user.ID, query, fullAnswer); err != nil {
			// 只记录错误，流式响应本身已经成功
			log.Errorf("[ChatService] 保存对话历史失败: %v", err)
		}
	}

	return nil
}

// buildContextText 把检索结果拼成 "[n] (document) snippet" 形式的上下文块。
func (s *chatService) buildContextText(results []model.QueryResult) string {
	if len(results) == 0 {
		return ""
	}
	const maxSnippetLen = 1000
	var contextBuilder strings.Builder
	for i, r := range results {
		snippet := r.Content
		if runes := []rune(snippet); len(runes) > maxSnippetLen {
			snippet = string(runes[:maxSnippetLen]) + "…"
		}
		docLabel := r.DocumentName
		if docLabel == "" {
			docLabel = "unknown"
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, docLabel, snippet))
	}
	return contextBuilder.String()
}

// buildSystemMessage 用配置的规则与包裹符组装 system 消息。
func (s *chatService) buildSystemMessage(contextText string) string {
	prompt := s.llmCfg.Prompt
	refStart := prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if prompt.Rules != "" {
		sys.WriteString(prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) loadHistory(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.conversationRepo.GetConversationHistory(ctx, convID)
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}

// addMessageToConversation 把一轮问答追加到用户的对话历史。
func (s *chatService) addMessageToConversation(ctx context.Context, userID uint, question, answer string) error {
	conversationID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get or create conversation ID: %w", err)
	}

	history, err := s.conversationRepo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}

	history = append(history, model.ChatMessage{
		Role:      "user",
		Content:   question,
		Timestamp: time.Now(),
	})
	history = append(history, model.ChatMessage{
		Role:      "assistant",
		Content:   answer,
		Timestamp: time.Now(),
	})

	return s.conversationRepo.UpdateConversationHistory(ctx, conversationID, history)
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
