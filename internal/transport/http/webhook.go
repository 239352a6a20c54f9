package httptransport

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otpmail/bot/internal/bot"
	"otpmail/bot/internal/transport/telegram"
)

// WebhookHandler 接收 Bot 平台推送的更新（Webhook 模式）。
// 路径里的 token 必须与 Bot 令牌一致，防止伪造推送。
type WebhookHandler struct {
	handler *bot.Handler
	token   string
	log     *zap.Logger
}

// NewWebhookHandler 创建 Webhook 接收处理器
func NewWebhookHandler(handler *bot.Handler, token string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		handler: handler,
		token:   token,
		log:     log,
	}
}

// Receive 校验令牌并把更新派发给 Bot 处理器。
// 派发在独立协程里进行，立即向平台返回 200，避免推送超时重试。
func (h *WebhookHandler) Receive(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(h.token)) != 1 {
		NotFound(c, "资源不存在")
		return
	}

	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		BadRequest(c, "更新格式无效")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		h.handler.HandleUpdate(ctx, update)
	}()

	Success(c, nil)
}
