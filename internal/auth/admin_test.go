package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminVerifier(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	verifier := NewAdminVerifier("admin", hash)

	t.Run("正确凭据通过", func(t *testing.T) {
		assert.NoError(t, verifier.Verify("admin", "s3cret-pass"))
	})

	t.Run("错误密码被拒绝", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify("admin", "wrong"), ErrInvalidCredentials)
	})

	t.Run("错误用户名被拒绝", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify("root", "s3cret-pass"), ErrInvalidCredentials)
	})
}
