package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"secure-rag-go/internal/service"
	"secure-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
// 文本消息即查询；{"type":"stop"} 取消正在进行的回答。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// safeConn 串行化对同一连接的写入。
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *safeConn) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

type controlMessage struct {
	Type string `json:"type"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Info("WebSocket 连接已建立")

	w := &safeConn{conn: conn}
	connCtx, closeConn := context.WithCancel(c.Request.Context())
	defer closeConn()

	var (
		mu     sync.Mutex
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	stopCurrent := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if cancel == nil {
			return false
		}
		cancel()
		return true
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		var ctrl controlMessage
		if len(message) > 0 && message[0] == '{' && json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
			if stopCurrent() {
				log.Info("收到停止指令，正在中断流式响应...")
			}
			continue
		}

		mu.Lock()
		if cancel != nil {
			mu.Unlock()
			_ = w.WriteJSON(gin.H{"error": "上一条回答尚未结束"})
			continue
		}
		ctx, stop := context.WithCancel(connCtx)
		cancel = stop
		mu.Unlock()

		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			defer stop()
			h.answer(ctx, query, w)
			mu.Lock()
			cancel = nil
			mu.Unlock()
		}(string(message))
	}

	closeConn()
	wg.Wait()
}

func (h *ChatHandler) answer(ctx context.Context, query string, w *safeConn) {
	err := h.chatService.StreamResponse(ctx, query, w)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		_ = w.WriteJSON(gin.H{
			"type":      "stop",
			"message":   "响应已停止",
			"timestamp": time.Now().UnixMilli(),
		})
		return
	}
	log.Errorf("处理流式响应失败: %v", err)
	_, msg := statusOf(err)
	_ = w.WriteJSON(gin.H{"error": msg})
	_ = w.WriteJSON(service.CompletionFrame())
}
