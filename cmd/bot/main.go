package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otpmail/bot/internal/auth"
	authjwt "otpmail/bot/internal/auth/jwt"
	"otpmail/bot/internal/bot"
	"otpmail/bot/internal/checker"
	"otpmail/bot/internal/config"
	"otpmail/bot/internal/events"
	"otpmail/bot/internal/health"
	"otpmail/bot/internal/logger"
	"otpmail/bot/internal/mailprov"
	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/poller"
	"otpmail/bot/internal/pool"
	"otpmail/bot/internal/scheduler"
	"otpmail/bot/internal/service"
	"otpmail/bot/internal/smtp"
	"otpmail/bot/internal/storage"
	"otpmail/bot/internal/storage/hybrid"
	"otpmail/bot/internal/storage/memory"
	redisstore "otpmail/bot/internal/storage/redis"
	sqlstore "otpmail/bot/internal/storage/sql"
	httptransport "otpmail/bot/internal/transport/http"
	"otpmail/bot/internal/transport/telegram"
)

// main 启动机器人后端：更新消费、倒计时调度、收件箱轮询，
// 以及可选的本地 SMTP 接收和运维 HTTP API。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting otp mail bot",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("mail_provider", cfg.Mail.Provider),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store)

	// 服务层
	sessions := service.NewSessionService(store, cfg.Mail.Domain, metrics, log)

	// Bot API 客户端
	tgClient := telegram.NewClient(
		cfg.Bot.APIBaseURL,
		cfg.Bot.Token,
		float64(cfg.Bot.SendRate),
		metrics,
		log,
	)

	// 运维 API 启用时创建令牌管理器和事件 Hub。
	// 仅 Webhook 模式不创建：未校验的 JWT secret 不得用于签发令牌。
	serveHTTP := cfg.Ops.Enabled || cfg.Bot.UseWebhook
	var (
		jwtManager *authjwt.Manager
		adminCreds *auth.AdminVerifier
		hub        *events.Hub
	)
	if cfg.Ops.Enabled {
		jwtManager = authjwt.NewManager(
			cfg.JWT.Secret,
			cfg.JWT.Issuer,
			cfg.JWT.AccessExpiry,
			cfg.JWT.RefreshExpiry,
		)
		adminCreds = auth.NewAdminVerifier(cfg.Ops.AdminUsername, cfg.Ops.AdminPasswordHash)
		hub = events.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)
	}

	// 倒计时调度器；Hub 存在时经观察装饰器广播事件
	var display scheduler.Display = bot.NewDisplay(tgClient)
	if hub != nil {
		display = events.NewObservedDisplay(display, hub)
	}
	timers := scheduler.New(display, metrics, log, cfg.OTP.TickInterval)
	defer timers.Close()

	// 邮件来源：远端 HTTP API 或本地 SMTP 接收
	var (
		provider   mailprov.Provider
		smtpServer *gosmtp.Server
	)
	if cfg.Mail.Provider == "smtp" {
		inbox := smtp.NewInbox()
		backend := smtp.NewBackend(cfg.SMTP.Domain, sessions, inbox, log)
		smtpServer = smtp.NewServer(backend, cfg.SMTP.BindAddr)
		provider = inbox
		log.Info("using local smtp intake", zap.String("bind_addr", cfg.SMTP.BindAddr))
	} else {
		provider = mailprov.NewHTTPProvider(cfg.Mail.APIBaseURL, cfg.Mail.RequestTimeout, log)
		log.Info("using remote mail provider", zap.String("base_url", cfg.Mail.APIBaseURL))
	}

	// 收件箱轮询器
	var notifier poller.Notifier = bot.NewCodeNotifier(tgClient, sessions, log)
	if hub != nil {
		notifier = events.NewObservedNotifier(notifier, hub)
	}
	workerPool := pool.NewWorkerPool(cfg.Poller.Workers, cfg.Poller.QueueSize, log)
	inboxPoller := poller.New(store, provider, notifier, workerPool, metrics, log, cfg.Poller.Interval)

	// 账号状态检测客户端
	checks := checker.NewClient(cfg.Checker.APIURL, cfg.Checker.Timeout, metrics, log)

	// 更新处理器
	botHandler := bot.NewHandler(
		tgClient,
		sessions,
		timers,
		checks,
		cfg.Bot.AdminChatID,
		cfg.Bot.UsersPerPage,
		log,
	)

	// 运维 HTTP 服务器（Webhook 模式下也承载更新回调）
	var httpServer *http.Server
	if serveHTTP {
		router := httptransport.NewRouter(httptransport.RouterDependencies{
			Config:   cfg,
			Sessions: sessions,
			Timers:   timers,
			Bot:      botHandler,
			Admin:    adminCreds,
			Tokens:   jwtManager,
			Hub:      hub,
			Health:   healthChecker,
			Metrics:  metrics,
			Logger:   log,
		})
		httpServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	workerPool.Start(groupCtx)

	// 收件箱轮询 goroutine
	group.Go(func() error {
		log.Info("starting inbox poller", zap.Duration("interval", cfg.Poller.Interval))
		return inboxPoller.Run(groupCtx)
	})

	// 更新消费 goroutine（长轮询模式）
	if !cfg.Bot.UseWebhook {
		consumer := bot.NewConsumer(tgClient, botHandler, log)
		group.Go(func() error {
			log.Info("starting update consumer (long polling)")
			return consumer.Run(groupCtx)
		})
	}

	// HTTP 服务器 goroutine
	if httpServer != nil {
		group.Go(func() error {
			log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// SMTP 服务器 goroutine
	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 事件 Hub goroutine
	if hub != nil {
		group.Go(func() error {
			log.Info("starting events hub")
			hub.Run(groupCtx)
			return nil
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", zap.Error(err))
			}
		}
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}
		workerPool.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("bot error", zap.Error(err))
	}

	log.Info("bot exited cleanly")
}

// initializeStorage 按配置选择会话存储实现
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	case "redis":
		log.Info("using redis storage", zap.String("address", cfg.Redis.Address))
		return redisstore.NewStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	case "sql":
		log.Info("using sql storage", zap.String("type", cfg.Database.Type))
		return sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
	case "hybrid":
		log.Info("using hybrid storage (sql + redis cache)",
			zap.String("type", cfg.Database.Type),
			zap.String("redis_address", cfg.Redis.Address),
		)
		return hybrid.NewStoreWithType(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s (supported: memory, redis, sql, hybrid)", cfg.Storage.Driver)
	}
}
