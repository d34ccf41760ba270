package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/middleware"
	"ditmail/backend/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeEvent MessageType = "event"
	MessageTypePing  MessageType = "ping"
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType   `json:"type"`
	Event     *domain.Event `json:"event,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接，只接收所属用户的事件
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// Hub 管理所有WebSocket连接，按用户分组
type Hub struct {
	users      map[string]map[string]*Client // userID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *zap.Logger
	metrics    *monitoring.Metrics
	upgrader   websocket.Upgrader
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
func NewHub(allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		users:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
		metrics:    metrics,
		upgrader:   upgraderFactory(allowedOrigins),
	}
}

// Run 启动Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.users[client.UserID] == nil {
				h.users[client.UserID] = make(map[string]*Client)
			}
			h.users[client.UserID][client.ID] = client
			n := h.countLocked()
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(n)
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("user", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.users[client.UserID]; ok {
				if _, ok := clients[client.ID]; ok {
					delete(clients, client.ID)
					close(client.send)
				}
				if len(clients) == 0 {
					delete(h.users, client.UserID)
				}
			}
			n := h.countLocked()
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(n)
			h.log.Debug("client unregistered", zap.String("id", client.ID))
		}
	}
}

// Dispatch 将事件推送给该用户的所有连接，不等待写出。
// 发送缓冲已满的连接会丢失该事件，客户端通过重新拉取恢复。
func (h *Hub) Dispatch(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(&Message{
		Type:      MessageTypeEvent,
		Event:     &event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.users[event.UserID] {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
	return nil
}

// ClientCount 用户当前的连接数
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) countLocked() int {
	n := 0
	for _, clients := range h.users {
		n += len(clients)
	}
	return n
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.users {
		for _, client := range clients {
			close(client.send)
		}
	}
	h.users = make(map[string]map[string]*Client)
	h.metrics.SetWebSocketClients(0)
}

// HandleWebSocket 处理WebSocket连接，需要放在 RequireAuth 之后
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "authentication required"})
			return
		}

		conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			UserID: userID,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
			hub:    hub,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("websocket error", zap.String("clientID", c.ID), zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case MessageTypePong, MessageTypePing:
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		default:
			c.sendError("unsupported message type: " + string(msg.Type))
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	data, err := json.Marshal(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.users[c.UserID][c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
