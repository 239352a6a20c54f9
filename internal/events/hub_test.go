package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	authjwt "otpmail/bot/internal/auth/jwt"
)

type hubFixture struct {
	hub    *Hub
	server *httptest.Server
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := authjwt.NewManager("0123456789abcdef0123456789abcdef", "otpbot", time.Hour, time.Hour)
	pair, err := tokens.GenerateTokenPair("admin", "admin")
	require.NoError(t, err)

	hub := NewHub([]string{"*"}, tokens, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	router := gin.New()
	router.GET("/events", HandleWebSocket(hub))
	server := httptest.NewServer(router)

	f := &hubFixture{hub: hub, server: server, token: pair.AccessToken, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/events?token=" + f.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func TestHub(t *testing.T) {
	t.Run("已连接客户端收到广播事件", func(t *testing.T) {
		f := newHubFixture(t)

		conn, err := f.dial(t)
		require.NoError(t, err)
		defer conn.Close()

		// 等待注册完成后再广播
		assert.Eventually(t, func() bool {
			f.hub.mu.RLock()
			defer f.hub.mu.RUnlock()
			return len(f.hub.clients) == 1
		}, 2*time.Second, 10*time.Millisecond)

		f.hub.PublishTimerStarted(42)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var event Event
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, EventTimerStarted, event.Type)

		var data TimerEventData
		require.NoError(t, json.Unmarshal(event.Data, &data))
		assert.EqualValues(t, 42, data.ChatID)
	})

	t.Run("未认证连接被拒绝", func(t *testing.T) {
		f := newHubFixture(t)

		url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/events"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("停止后已连接客户端被关闭", func(t *testing.T) {
		f := newHubFixture(t)

		conn, err := f.dial(t)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool {
			f.hub.mu.RLock()
			defer f.hub.mu.RUnlock()
			return len(f.hub.clients) == 1
		}, 2*time.Second, 10*time.Millisecond)

		f.cancel()
		<-f.done

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("停止后新握手立即结束不阻塞", func(t *testing.T) {
		f := newHubFixture(t)

		f.cancel()
		<-f.done

		conn, err := f.dial(t)
		if err != nil {
			return
		}
		defer conn.Close()

		// 注册通道已无人消费，握手必须走关停分支收掉连接
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		assert.Error(t, err)
	})
}
