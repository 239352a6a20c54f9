package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BotConfig 定义聊天机器人接入配置
type BotConfig struct {
	Token        string // Bot API 令牌，必填
	APIBaseURL   string // Bot API 基础地址，可指向本地模拟器
	AdminChatID  int64  // 管理员会话ID，0 表示禁用管理功能
	UsersPerPage int    // 管理员用户列表每页条数
	UseWebhook   bool   // true 时通过运维 HTTP 服务接收更新，false 时长轮询
	SendRate     int    // 每秒最多发出的 Bot API 调用数
}

// OTPConfig 定义动态口令倒计时配置
type OTPConfig struct {
	TickInterval time.Duration // 倒计时刷新间隔，默认 1s
}

// PollerConfig 定义收件箱轮询器配置
type PollerConfig struct {
	Interval  time.Duration // 扫描间隔，默认 5s
	Workers   int           // 单次扫描的并发抓取数
	QueueSize int           // 工作池任务队列长度
}

// MailConfig 定义临时邮箱服务配置
type MailConfig struct {
	Domain         string        // 生成地址使用的固定域名
	Provider       string        // 邮件来源: "http"（远端API）或 "smtp"（本地接收）
	APIBaseURL     string        // HTTP 提供方的基础地址
	RequestTimeout time.Duration // 单次抓取的超时
}

// SMTPConfig 定义本地 SMTP 接收服务器配置（mail.provider = "smtp" 时启用）
type SMTPConfig struct {
	BindAddr string // 监听地址，默认 ":2525"
	Domain   string // HELO/EHLO 响应域名
}

// CheckerConfig 定义第三方账号状态查询配置
type CheckerConfig struct {
	APIURL  string        // 批量查询接口地址
	Timeout time.Duration // 单次查询超时
}

// ServerConfig 定义运维 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// StorageConfig 定义会话存储选择
type StorageConfig struct {
	Driver string // "memory"（默认）、"redis"、"sql"、"hybrid"
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// OpsConfig 定义运维 API 的管理员认证配置
type OpsConfig struct {
	Enabled           bool   // 是否开启运维 HTTP API
	AdminUsername     string // 管理员登录名
	AdminPasswordHash string // bcrypt 哈希后的管理员口令
}

// JWTConfig 定义运维 API 的 JWT 认证配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "otpbot"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Bot      BotConfig
	OTP      OTPConfig
	Poller   PollerConfig
	Mail     MailConfig
	SMTP     SMTPConfig
	Checker  CheckerConfig
	Server   ServerConfig
	CORS     CORSConfig
	Log      LogConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Ops      OpsConfig
	JWT      JWTConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: OTPBOT_
// 例如: OTPBOT_BOT_TOKEN, OTPBOT_POLLER_INTERVAL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("otpbot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("bot.token", "")
	viper.SetDefault("bot.api_base_url", "https://api.telegram.org")
	viper.SetDefault("bot.admin_chat_id", 0)
	viper.SetDefault("bot.users_per_page", 5)
	viper.SetDefault("bot.use_webhook", false)
	viper.SetDefault("bot.send_rate", 25)
	viper.SetDefault("otp.tick_interval", "1s")
	viper.SetDefault("poller.interval", "5s")
	viper.SetDefault("poller.workers", 8)
	viper.SetDefault("poller.queue_size", 64)
	viper.SetDefault("mail.domain", "mailto.plus")
	viper.SetDefault("mail.provider", "http")
	viper.SetDefault("mail.api_base_url", "https://tempmail.plus/api")
	viper.SetDefault("mail.request_timeout", "10s")
	viper.SetDefault("smtp.bind_addr", ":2525")
	viper.SetDefault("smtp.domain", "mailto.plus")
	viper.SetDefault("checker.api_url", "https://check.fb.tools/api/check/account")
	viper.SetDefault("checker.timeout", "15s")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("database.type", "")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ops.enabled", false)
	viper.SetDefault("ops.admin_username", "admin")
	viper.SetDefault("ops.admin_password_hash", "")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "otpbot")
	viper.SetDefault("jwt.access_expiry", "15m")
	viper.SetDefault("jwt.refresh_expiry", "168h")

	botToken := viper.GetString("bot.token")
	if botToken == "" {
		return nil, fmt.Errorf("bot.token is required: set OTPBOT_BOT_TOKEN")
	}

	tickInterval, err := time.ParseDuration(viper.GetString("otp.tick_interval"))
	if err != nil || tickInterval <= 0 {
		tickInterval = time.Second
	}

	pollInterval, err := time.ParseDuration(viper.GetString("poller.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid poller.interval: %w", err)
	}
	if pollInterval < time.Second {
		return nil, fmt.Errorf("poller.interval must be at least 1s")
	}

	workers := viper.GetInt("poller.workers")
	if workers <= 0 {
		workers = 8
	}
	queueSize := viper.GetInt("poller.queue_size")
	if queueSize <= 0 {
		queueSize = 64
	}

	provider := strings.ToLower(viper.GetString("mail.provider"))
	if provider != "http" && provider != "smtp" {
		return nil, fmt.Errorf("invalid mail.provider: %s (supported: http, smtp)", provider)
	}

	mailTimeout, err := time.ParseDuration(viper.GetString("mail.request_timeout"))
	if err != nil {
		mailTimeout = 10 * time.Second
	}

	checkerTimeout, err := time.ParseDuration(viper.GetString("checker.timeout"))
	if err != nil {
		checkerTimeout = 15 * time.Second
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	driver := strings.ToLower(viper.GetString("storage.driver"))
	switch driver {
	case "memory", "redis", "sql", "hybrid":
	default:
		return nil, fmt.Errorf("invalid storage.driver: %s (supported: memory, redis, sql, hybrid)", driver)
	}

	if driver == "sql" || driver == "hybrid" {
		if viper.GetString("database.type") == "" || viper.GetString("database.dsn") == "" {
			return nil, fmt.Errorf("storage.driver %q requires database.type and database.dsn", driver)
		}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(viper.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(viper.GetString("jwt.refresh_expiry"))
	if err != nil {
		refreshExpiry = 7 * 24 * time.Hour
	}

	opsEnabled := viper.GetBool("ops.enabled")
	jwtSecret := viper.GetString("jwt.secret")

	if opsEnabled {
		// 安全检查：运维 API 开启时禁止使用默认的 JWT secret
		if jwtSecret == "change-me-in-production" {
			return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set OTPBOT_JWT_SECRET")
		}
		if len(jwtSecret) < 32 {
			return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
		}
		if viper.GetString("ops.admin_password_hash") == "" {
			return nil, fmt.Errorf("ops.admin_password_hash is required when ops API is enabled")
		}
	}

	cfg := &Config{
		Bot: BotConfig{
			Token:        botToken,
			APIBaseURL:   strings.TrimRight(viper.GetString("bot.api_base_url"), "/"),
			AdminChatID:  viper.GetInt64("bot.admin_chat_id"),
			UsersPerPage: viper.GetInt("bot.users_per_page"),
			UseWebhook:   viper.GetBool("bot.use_webhook"),
			SendRate:     viper.GetInt("bot.send_rate"),
		},
		OTP: OTPConfig{
			TickInterval: tickInterval,
		},
		Poller: PollerConfig{
			Interval:  pollInterval,
			Workers:   workers,
			QueueSize: queueSize,
		},
		Mail: MailConfig{
			Domain:         strings.ToLower(viper.GetString("mail.domain")),
			Provider:       provider,
			APIBaseURL:     strings.TrimRight(viper.GetString("mail.api_base_url"), "/"),
			RequestTimeout: mailTimeout,
		},
		SMTP: SMTPConfig{
			BindAddr: viper.GetString("smtp.bind_addr"),
			Domain:   viper.GetString("smtp.domain"),
		},
		Checker: CheckerConfig{
			APIURL:  viper.GetString("checker.api_url"),
			Timeout: checkerTimeout,
		},
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Storage: StorageConfig{
			Driver: driver,
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Ops: OpsConfig{
			Enabled:           opsEnabled,
			AdminUsername:     viper.GetString("ops.admin_username"),
			AdminPasswordHash: viper.GetString("ops.admin_password_hash"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        viper.GetString("jwt.issuer"),
			AccessExpiry:  accessExpiry,
			RefreshExpiry: refreshExpiry,
		},
	}

	if cfg.Bot.UsersPerPage <= 0 {
		cfg.Bot.UsersPerPage = 5
	}
	if cfg.Bot.SendRate <= 0 {
		cfg.Bot.SendRate = 25
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
