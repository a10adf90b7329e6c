// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/services"
	"github.com/Corphon/ScriptHook/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = wsPongTimeout * 9 / 10
)

// 服务端发送的消息类型
const (
	wsTypeChunk  = "chunk"
	wsTypeResult = "result"
	wsTypeError  = "error"
)

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// wsServerMessage 服务端消息
type wsServerMessage struct {
	Type    string              `json:"type"`
	Text    string              `json:"text,omitempty"`
	Reply   *services.ChatReply `json:"reply,omitempty"`
	Message string              `json:"message,omitempty"`
	Code    string              `json:"code,omitempty"`
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      WebSocketConnection
	writeMu   sync.Mutex
	closed    int32 // 原子操作标志，0=开启，1=关闭
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection) *WebSocketClient {
	return &WebSocketClient{conn: conn, createdAt: time.Now()}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

func (client *WebSocketClient) write(messageType int, data []byte) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return client.conn.WriteMessage(messageType, data)
}

// SendMessage 发送一条 JSON 消息
func (client *WebSocketClient) SendMessage(msg *wsServerMessage) error {
	if client.IsClosed() {
		return websocket.ErrCloseSent
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.write(websocket.TextMessage, data)
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(err error) error {
	msg := &wsServerMessage{Type: wsTypeError, Message: sanitizeErrorMessage(err.Error())}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		_, msg.Code = statusForError(appErr.Type)
		msg.Message = sanitizeErrorMessage(appErr.Message)
	}
	return client.SendMessage(msg)
}

// extendReadDeadline 推迟读超时；长时间的流式回复期间读循环不会调用 ReadMessage
func (client *WebSocketClient) extendReadDeadline() error {
	return client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
}

// keepAlive 定期发送 ping，直到 done 关闭
func (client *WebSocketClient) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}

// newUpgrader 按 ALLOWED_ORIGINS 检查来源
func newUpgrader(allowed []string) websocket.Upgrader {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins["*"] || origins[origin]
		},
	}
}

// ChatWebSocket 处理 /ws/chat。客户端每发送一条 ChatRequest，服务端依次推送
// 若干 chunk，最后推送 result 或 error
func (h *Handler) ChatWebSocket(c *gin.Context) {
	upgrader := newUpgrader(h.config.AllowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if h.config.MaxBodyBytes > 0 {
		conn.SetReadLimit(h.config.MaxBodyBytes)
	}
	h.serveChat(c.Request.Context(), newWebSocketClient(conn))
}

// serveChat 读循环；连接断开或读出错时返回
func (h *Handler) serveChat(ctx context.Context, client *WebSocketClient) {
	collector := h.Metrics.Collector()
	collector.IncGauge(utils.MetricWSConnections)
	defer collector.DecGauge(utils.MetricWSConnections)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer func() {
		close(done)
		cancel()
		client.Close()
		h.logger.Info("websocket client disconnected", map[string]interface{}{
			"duration": time.Since(client.createdAt).Milliseconds(),
		})
	}()

	client.extendReadDeadline()
	client.conn.SetPongHandler(func(string) error {
		return client.extendReadDeadline()
	})
	go client.keepAlive(done)

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}
		client.extendReadDeadline()

		var req services.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if client.SendError(apperrors.NewValidationError("消息不是合法的 JSON", err)) != nil {
				return
			}
			client.extendReadDeadline()
			continue
		}

		reply, err := h.ChatService.Stream(ctx, req, func(text string) error {
			return client.SendMessage(&wsServerMessage{Type: wsTypeChunk, Text: text})
		})
		if err != nil {
			if client.IsClosed() || client.SendError(err) != nil {
				return
			}
			client.extendReadDeadline()
			continue
		}
		if err := client.SendMessage(&wsServerMessage{Type: wsTypeResult, Reply: reply}); err != nil {
			return
		}
		// 发送 result 可能已在上次读之后超过 wsPongTimeout
		client.extendReadDeadline()
	}
}
