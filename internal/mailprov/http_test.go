package mailprov

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPProvider_ListMessages(t *testing.T) {
	t.Run("成功解析邮件列表", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/mails", r.URL.Path)
			assert.Equal(t, "box@mailto.plus", r.URL.Query().Get("email"))
			assert.Equal(t, "7", r.URL.Query().Get("first_id"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"result": true,
				"count": 2,
				"mail_list": [
					{"mail_id": 9, "from": "Google <no-reply@google.com>", "subject": "Your code is 482913", "text": "body"},
					{"mail_id": 8, "from": "someone@example.com", "subject": "hi", "text": "plain"}
				]
			}`))
		}))
		defer server.Close()

		provider := NewHTTPProvider(server.URL, time.Second, zap.NewNop())
		messages, err := provider.ListMessages(context.Background(), "box@mailto.plus", 7)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, int64(9), messages[0].ID)
		assert.Equal(t, "Google <no-reply@google.com>", messages[0].Sender)
		assert.Equal(t, "Your code is 482913", messages[0].Subject)
	})

	t.Run("游标为零时不带first_id参数", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.False(t, r.URL.Query().Has("first_id"))
			w.Write([]byte(`{"result": true, "count": 0, "mail_list": []}`))
		}))
		defer server.Close()

		provider := NewHTTPProvider(server.URL, time.Second, zap.NewNop())
		messages, err := provider.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("非2xx状态映射为提供方不可用", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		provider := NewHTTPProvider(server.URL, time.Second, zap.NewNop())
		_, err := provider.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("连接失败映射为提供方不可用", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		provider := NewHTTPProvider(server.URL, time.Second, zap.NewNop())
		_, err := provider.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("失败标记映射为提供方不可用", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": false}`))
		}))
		defer server.Close()

		provider := NewHTTPProvider(server.URL, time.Second, zap.NewNop())
		_, err := provider.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.ErrorIs(t, err, ErrProviderUnavailable)
	})
}
