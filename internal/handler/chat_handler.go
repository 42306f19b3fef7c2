// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"docbrain-go/internal/service"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// stopCommand 是客户端在流式响应期间发送的停止指令。
type stopCommand struct {
	Type string `json:"type"`
}

// Handle 处理一个传入的 WebSocket 连接。
// 停止标志是每连接的：收到 {"type":"stop"} 后静默当前流的剩余部分。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	var stopped atomic.Bool

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		log.Infof("收到 WebSocket 消息: %s", string(message))

		// 停止指令: {"type":"stop"} —— 静默当前流的剩余部分
		if len(message) > 0 && message[0] == '{' {
			var cmd stopCommand
			if err := json.Unmarshal(message, &cmd); err == nil && cmd.Type == "stop" {
				stopped.Store(true)
				resp := map[string]interface{}{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": time.Now().UnixMilli(),
					"date":      time.Now().Format("2006-01-02T15:04:05"),
				}
				b, _ := json.Marshal(resp)
				_ = conn.WriteMessage(websocket.TextMessage, b)
				continue
			}
		}

		// 新一轮问答前清除停止标志
		stopped.Store(false)
		shouldStop := func() bool { return stopped.Load() }

		if err := h.chatService.StreamResponse(c.Request.Context(), string(message), user, conn, shouldStop); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			errResp := map[string]string{"error": "AI服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			// 错误时也发送 completion 通知，客户端据此收尾
			resp := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			cb, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, cb)
			break
		}
	}
}
