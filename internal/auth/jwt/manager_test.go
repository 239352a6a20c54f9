package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(accessExpiry time.Duration) *Manager {
	return NewManager("test-secret-key-32-bytes-long!!!", "otpbot", accessExpiry, 24*time.Hour)
}

func TestManager_TokenLifecycle(t *testing.T) {
	t.Run("签发并验证令牌对", func(t *testing.T) {
		m := newTestManager(15 * time.Minute)
		pair, err := m.GenerateTokenPair("admin", "admin")
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, int64(900), pair.ExpiresIn)

		claims, err := m.ValidateToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
		assert.Equal(t, "admin", claims.Role)
		assert.Equal(t, "otpbot", claims.Issuer)
	})

	t.Run("过期令牌返回专门错误", func(t *testing.T) {
		m := newTestManager(-time.Minute)
		pair, err := m.GenerateTokenPair("admin", "admin")
		require.NoError(t, err)

		_, err = m.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("篡改令牌被拒绝", func(t *testing.T) {
		m := newTestManager(15 * time.Minute)
		pair, err := m.GenerateTokenPair("admin", "admin")
		require.NoError(t, err)

		other := NewManager("another-secret-entirely-differ!!", "otpbot", 15*time.Minute, 24*time.Hour)
		_, err = other.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("刷新令牌换发新令牌对", func(t *testing.T) {
		m := newTestManager(15 * time.Minute)
		pair, err := m.GenerateTokenPair("admin", "admin")
		require.NoError(t, err)

		refreshed, err := m.RefreshAccessToken(pair.RefreshToken)
		require.NoError(t, err)
		claims, err := m.ValidateToken(refreshed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
	})
}
