package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otpmail/bot/internal/auth"
	authjwt "otpmail/bot/internal/auth/jwt"
)

// AuthHandler 处理运维接口的认证请求
type AuthHandler struct {
	admin  *auth.AdminVerifier
	tokens *authjwt.Manager
	log    *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(admin *auth.AdminVerifier, tokens *authjwt.Manager) *AuthHandler {
	return &AuthHandler{
		admin:  admin,
		tokens: tokens,
		log:    zap.NewNop(),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Login 管理员登录，签发令牌对
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	if err := h.admin.Verify(req.Username, req.Password); err != nil {
		Unauthorized(c, "用户名或密码错误")
		return
	}

	pair, err := h.tokens.GenerateTokenPair(req.Username, "admin")
	if err != nil {
		h.log.Error("生成令牌失败", zap.Error(err))
		InternalError(c, "生成令牌失败")
		return
	}

	Success(c, pair)
}

// Refresh 使用刷新令牌换取新的令牌对
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	pair, err := h.tokens.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, authjwt.ErrExpiredToken) {
			Unauthorized(c, "刷新令牌已过期")
			return
		}
		Unauthorized(c, "刷新令牌无效")
		return
	}

	Success(c, pair)
}
