package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otpmail/bot/internal/auth"
	authjwt "otpmail/bot/internal/auth/jwt"
	"otpmail/bot/internal/bot"
	"otpmail/bot/internal/config"
	"otpmail/bot/internal/events"
	"otpmail/bot/internal/health"
	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/scheduler"
	"otpmail/bot/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config   *config.Config
	Sessions *service.SessionService
	Timers   *scheduler.Scheduler
	Bot      *bot.Handler
	Admin    *auth.AdminVerifier
	Tokens   *authjwt.Manager
	Hub      *events.Hub
	Health   *health.Checker
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(RequestLogger(deps.Logger, deps.Metrics))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 监控端点
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	// 健康检查
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}

	// Bot 更新回调入口（Webhook 模式）
	if deps.Bot != nil && deps.Config.Bot.UseWebhook {
		webhookHandler := NewWebhookHandler(deps.Bot, deps.Config.Bot.Token, deps.Logger)
		router.POST("/webhook/:token", webhookHandler.Receive)
	}

	// 管理 API 只在运维开关打开时挂载。
	// 仅 Webhook 模式下 JWT secret 不经过配置校验，不得暴露这些路由。
	if deps.Config.Ops.Enabled {
		authHandler := NewAuthHandler(deps.Admin, deps.Tokens)
		sessionHandler := NewSessionHandler(deps.Sessions, deps.Timers)
		jwtAuth := JWTAuth(deps.Tokens)

		api := router.Group("/api")
		{
			// ========== Auth Routes ==========
			authRoutes := api.Group("/auth")
			{
				authRoutes.POST("/login", authHandler.Login)
				authRoutes.POST("/refresh", authHandler.Refresh)
			}

			// ========== Admin Routes ==========
			adminRoutes := api.Group("")
			adminRoutes.Use(jwtAuth)
			{
				adminRoutes.GET("/sessions", sessionHandler.ListSessions)
				adminRoutes.GET("/sessions/export", sessionHandler.ExportSessions)
				adminRoutes.GET("/sessions/:chatId", sessionHandler.GetSession)
			}

			// ========== WebSocket Routes ==========
			// Hub 在握手阶段自行校验令牌（支持 query token）。
			if deps.Hub != nil {
				api.GET("/events", events.HandleWebSocket(deps.Hub))
			}
		}
	}

	return router
}
