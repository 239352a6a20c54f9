package httptransport

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	authjwt "otpmail/bot/internal/auth/jwt"
	"otpmail/bot/internal/monitoring"
)

// RecoveryHandler panic 恢复中间件
func RecoveryHandler(log *zap.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsTotal.Inc()
				log.Error("HTTP 处理 panic",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path))
				InternalError(c, "服务器内部错误")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// RequestLogger 请求日志与指标中间件
func RequestLogger(log *zap.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, endpoint).Observe(elapsed.Seconds())

		log.Debug("HTTP 请求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", elapsed))
	}
}

// JWTAuth 管理员令牌认证中间件
func JWTAuth(tokens *authjwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			Unauthorized(c, "缺少认证令牌")
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			Unauthorized(c, "认证令牌无效或已过期")
			c.Abort()
			return
		}
		if claims.Role != "admin" {
			Forbidden(c, "无权限访问")
			c.Abort()
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}
