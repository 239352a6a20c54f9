package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otpmail/bot/internal/auth"
	authjwt "otpmail/bot/internal/auth/jwt"
	"otpmail/bot/internal/bot"
	"otpmail/bot/internal/config"
	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/scheduler"
	"otpmail/bot/internal/service"
	"otpmail/bot/internal/storage/memory"
	"otpmail/bot/internal/transport/telegram"
)

const testBotToken = "123456:test-token"

type routerFixture struct {
	router   *gin.Engine
	sessions *service.SessionService
	tokens   *authjwt.Manager
	botAPI   *botAPIStub
}

// botAPIStub 模拟 Bot 平台接口，记录收到的调用方法名
type botAPIStub struct {
	mu      sync.Mutex
	methods []string
	server  *httptest.Server
}

func newBotAPIStub() *botAPIStub {
	stub := &botAPIStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		stub.mu.Lock()
		stub.methods = append(stub.methods, parts[len(parts)-1])
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	return stub
}

func (s *botAPIStub) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.methods))
	copy(out, s.methods)
	return out
}

func newRouterFixture(t *testing.T) *routerFixture {
	return newFixtureWithMode(t, true, true)
}

// newFixtureWithMode 按运维开关和 Webhook 开关构造路由
func newFixtureWithMode(t *testing.T, opsEnabled, useWebhook bool) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	store := memory.NewStore()
	metrics := monitoring.NewNopMetrics()
	log := zap.NewNop()
	sessions := service.NewSessionService(store, "mailto.plus", metrics, log)
	tokens := authjwt.NewManager("0123456789abcdef0123456789abcdef", "otpbot", 15*time.Minute, 7*24*time.Hour)

	stub := newBotAPIStub()
	t.Cleanup(stub.server.Close)
	client := telegram.NewClient(stub.server.URL, testBotToken, 100, metrics, log)
	timers := scheduler.New(bot.NewDisplay(client), metrics, log, time.Hour)
	t.Cleanup(timers.Close)
	botHandler := bot.NewHandler(client, sessions, timers, nil, 9000, 5, log)

	cfg := &config.Config{}
	cfg.Bot.Token = testBotToken
	cfg.Bot.UseWebhook = useWebhook
	cfg.Ops.Enabled = opsEnabled
	cfg.CORS.AllowedOrigins = []string{"*"}

	router := NewRouter(RouterDependencies{
		Config:   cfg,
		Sessions: sessions,
		Timers:   timers,
		Bot:      botHandler,
		Admin:    auth.NewAdminVerifier("admin", hash),
		Tokens:   tokens,
		Metrics:  metrics,
		Logger:   log,
	})

	return &routerFixture{
		router:   router,
		sessions: sessions,
		tokens:   tokens,
		botAPI:   stub,
	}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) adminToken(t *testing.T) string {
	t.Helper()
	pair, err := f.tokens.GenerateTokenPair("admin", "admin")
	require.NoError(t, err)
	return pair.AccessToken
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Code int            `json:"code"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, CodeSuccess, resp.Code)
	return resp.Data
}

func TestAuthEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("登录成功返回令牌对", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "",
			gin.H{"username": "admin", "password": "s3cret"})
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		assert.NotEmpty(t, data["accessToken"])
		assert.NotEmpty(t, data["refreshToken"])
	})

	t.Run("密码错误拒绝登录", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "",
			gin.H{"username": "admin", "password": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("缺少字段返回400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "",
			gin.H{"username": "admin"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("刷新令牌换新令牌对", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "",
			gin.H{"username": "admin", "password": "s3cret"})
		require.Equal(t, http.StatusOK, rec.Code)
		refresh := decodeData(t, rec)["refreshToken"].(string)

		rec = f.do(t, http.MethodPost, "/api/auth/refresh", "",
			gin.H{"refreshToken": refresh})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decodeData(t, rec)["accessToken"])
	})

	t.Run("伪造刷新令牌被拒绝", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/refresh", "",
			gin.H{"refreshToken": "not-a-token"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSessionEndpoints(t *testing.T) {
	f := newRouterFixture(t)
	token := f.adminToken(t)

	_, err := f.sessions.Ensure(1001)
	require.NoError(t, err)
	_, err = f.sessions.GenerateMailbox(1001)
	require.NoError(t, err)
	_, err = f.sessions.Ensure(1002)
	require.NoError(t, err)

	t.Run("未携带令牌拒绝访问", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/sessions", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("会话列表按chatId升序", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/sessions", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		assert.EqualValues(t, 2, data["count"])
		items := data["items"].([]any)
		require.Len(t, items, 2)
		first := items[0].(map[string]any)
		assert.EqualValues(t, 1001, first["chatId"])
		assert.EqualValues(t, 1, first["mailboxCount"])
	})

	t.Run("会话详情含邮箱历史", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/sessions/1001", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		mailboxes := data["mailboxes"].([]any)
		require.Len(t, mailboxes, 1)
		record := mailboxes[0].(map[string]any)
		assert.Contains(t, record["address"], "@mailto.plus")
	})

	t.Run("会话不存在返回404", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/sessions/4242", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("会话ID非数字返回400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/sessions/abc", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("导出CSV含表头和地址", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/sessions/export", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "user_data.csv")
		body := rec.Body.String()
		assert.Contains(t, body, "User ID,Email,Created At")
		assert.Contains(t, body, "1001")
	})
}

func TestWebhookEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	update := gin.H{
		"update_id": 7,
		"message": gin.H{
			"message_id": 1,
			"chat":       gin.H{"id": 555},
			"text":       "📧 Temp Mail Service",
		},
	}

	t.Run("令牌不匹配返回404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/webhook/wrong-token", "", update)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("非法JSON返回400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/"+testBotToken,
			strings.NewReader("{broken"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("合法更新派发给处理器", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/webhook/"+testBotToken, "", update)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Eventually(t, func() bool {
			for _, method := range f.botAPI.calls() {
				if method == "sendMessage" {
					return true
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestWebhookOnlyModeHidesAdminAPI(t *testing.T) {
	f := newFixtureWithMode(t, false, true)

	t.Run("登录端点不存在", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "",
			gin.H{"username": "admin", "password": "s3cret"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("会话端点不存在", func(t *testing.T) {
		token := f.adminToken(t)
		rec := f.do(t, http.MethodGet, "/api/sessions", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Webhook入口仍可用", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/webhook/"+testBotToken, "", gin.H{
			"update_id": 1,
			"message": gin.H{
				"message_id": 1,
				"chat":       gin.H{"id": 777},
				"text":       "/start",
			},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestOpsOnlyModeHidesWebhook(t *testing.T) {
	f := newFixtureWithMode(t, true, false)

	rec := f.do(t, http.MethodPost, "/webhook/"+testBotToken, "", gin.H{"update_id": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndRecovery(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("metrics端点可访问", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
