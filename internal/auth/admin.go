package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminVerifier 校验运维接口的管理员凭据。
// 密码只保存 bcrypt 哈希，配置里不出现明文。
type AdminVerifier struct {
	username     string
	passwordHash []byte
}

// NewAdminVerifier 创建管理员凭据校验器
func NewAdminVerifier(username, passwordHash string) *AdminVerifier {
	return &AdminVerifier{
		username:     username,
		passwordHash: []byte(passwordHash),
	}
}

// Verify 校验用户名和密码
func (v *AdminVerifier) Verify(username, password string) error {
	nameMatch := subtle.ConstantTimeCompare([]byte(v.username), []byte(username)) == 1
	if err := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password)); err != nil || !nameMatch {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword 生成密码哈希，部署时用于准备配置
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
