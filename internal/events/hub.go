package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	authjwt "otpmail/bot/internal/auth/jwt"
	"otpmail/bot/internal/domain"
)

// EventType 事件类型
type EventType string

const (
	EventTimerStarted  EventType = "timer_started"
	EventTimerExpired  EventType = "timer_expired"
	EventTimerClaimed  EventType = "timer_claimed"
	EventCodeExtracted EventType = "code_extracted"
	EventPing          EventType = "ping"
	EventPong          EventType = "pong"
)

// Event 推送给运维客户端的事件
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TimerEventData 定时器生命周期事件
type TimerEventData struct {
	ChatID int64 `json:"chatId"`
}

// CodeEventData 验证码提取事件，验证码本身不出运维通道
type CodeEventData struct {
	ChatID    int64  `json:"chatId"`
	Sender    string `json:"sender"`
	MessageID int64  `json:"messageId"`
}

// Client 一个已认证的运维 WebSocket 连接
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *zap.Logger
}

// Hub 管理运维事件的 WebSocket 广播。
// 所有已连接客户端收到全部事件，无订阅粒度。
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// done 在 Run 退出后关闭，让握手和注销不再往无人消费的通道发送
	done     chan struct{}
	doneOnce sync.Once

	allowedOrigins []string
	tokens         *authjwt.Manager
	log            *zap.Logger
	mu             sync.RWMutex
}

// NewHub 创建事件 Hub
func NewHub(allowedOrigins []string, tokens *authjwt.Manager, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan []byte, 256),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
		tokens:         tokens,
		log:            log,
	}
}

// Run 启动广播循环，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.log.Info("事件客户端接入", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Info("事件客户端断开", zap.String("id", client.id))

		case data := <-h.broadcast:
			h.fanOut(data)

		case <-ticker.C:
			h.publish(Event{Type: EventPing, Timestamp: time.Now()})
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("事件客户端发送缓冲已满，丢弃", zap.String("id", client.id))
		}
	}
}

func (h *Hub) publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("编码事件失败", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("事件广播缓冲已满，丢弃", zap.String("type", string(event.Type)))
	}
}

func (h *Hub) publishWithData(eventType EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("编码事件数据失败", zap.Error(err))
		return
	}
	h.publish(Event{Type: eventType, Data: data, Timestamp: time.Now()})
}

// PublishTimerStarted 广播定时器启动事件
func (h *Hub) PublishTimerStarted(chatID int64) {
	h.publishWithData(EventTimerStarted, TimerEventData{ChatID: chatID})
}

// PublishTimerExpired 广播定时器过期事件
func (h *Hub) PublishTimerExpired(chatID int64) {
	h.publishWithData(EventTimerExpired, TimerEventData{ChatID: chatID})
}

// PublishTimerClaimed 广播定时器领取事件
func (h *Hub) PublishTimerClaimed(chatID int64) {
	h.publishWithData(EventTimerClaimed, TimerEventData{ChatID: chatID})
}

// PublishCodeExtracted 广播验证码提取事件
func (h *Hub) PublishCodeExtracted(notification domain.CodeNotification) {
	h.publishWithData(EventCodeExtracted, CodeEventData{
		ChatID:    notification.ChatID,
		Sender:    notification.Sender,
		MessageID: notification.MessageID,
	})
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) authenticate(c *gin.Context) error {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		return errors.New("missing authentication token")
	}
	_, err := h.tokens.ValidateToken(token)
	return err
}

func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket 处理运维事件的 WebSocket 接入
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		if err := hub.authenticate(c); err != nil {
			hub.log.Warn("事件接入认证失败",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("升级 WebSocket 连接失败", zap.Error(err))
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
			log:  hub.log,
		}
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var event Event
		if err := c.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("事件连接读取出错", zap.Error(err))
			}
			return
		}
		if event.Type == EventPong {
			c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, data)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
