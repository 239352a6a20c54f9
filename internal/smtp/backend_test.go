package smtp

import (
	"context"
	"strings"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticResolver map[string]bool

func (r staticResolver) AddressExists(address string) bool { return r[address] }

func newTestSession(t *testing.T, inbox *Inbox) *session {
	t.Helper()
	backend := NewBackend("mailto.plus", staticResolver{"box@mailto.plus": true}, inbox, zap.NewNop())
	s, err := backend.NewSession(nil)
	require.NoError(t, err)
	return s.(*session)
}

func TestSession_Rcpt(t *testing.T) {
	tests := []struct {
		name     string
		to       string
		wantCode int
	}{
		{"已知地址被接受", "<box@mailto.plus>", 0},
		{"未知本域地址被拒绝", "<stranger@mailto.plus>", 550},
		{"外域地址被拒绝", "<box@example.com>", 550},
		{"畸形地址被拒绝", "<not-an-address>", 501},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, NewInbox())
			err := s.Rcpt(tt.to, nil)
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			var smtpErr *gosmtp.SMTPError
			require.ErrorAs(t, err, &smtpErr)
			assert.Equal(t, tt.wantCode, smtpErr.Code)
		})
	}
}

func TestSession_Data(t *testing.T) {
	t.Run("纯文本邮件投递到收件箱", func(t *testing.T) {
		inbox := NewInbox()
		s := newTestSession(t, inbox)
		require.NoError(t, s.Mail("no-reply@google.com", nil))
		require.NoError(t, s.Rcpt("<box@mailto.plus>", nil))

		raw := "From: Google <no-reply@google.com>\r\n" +
			"To: box@mailto.plus\r\n" +
			"Subject: Your verification code\r\n" +
			"\r\n" +
			"Your code is 482913\r\n"
		require.NoError(t, s.Data(strings.NewReader(raw)))

		messages, err := inbox.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "Your verification code", messages[0].Subject)
		assert.Contains(t, messages[0].Body, "482913")
		assert.Equal(t, "no-reply@google.com", messages[0].Sender)
	})

	t.Run("multipart邮件取第一个纯文本部分", func(t *testing.T) {
		inbox := NewInbox()
		s := newTestSession(t, inbox)
		require.NoError(t, s.Mail("hi@example.com", nil))
		require.NoError(t, s.Rcpt("<box@mailto.plus>", nil))

		raw := "From: hi@example.com\r\n" +
			"Subject: hello\r\n" +
			"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
			"\r\n" +
			"--XYZ\r\n" +
			"Content-Type: text/html\r\n" +
			"\r\n" +
			"<b>code 111222</b>\r\n" +
			"--XYZ\r\n" +
			"Content-Type: text/plain\r\n" +
			"\r\n" +
			"code 111222\r\n" +
			"--XYZ--\r\n"
		require.NoError(t, s.Data(strings.NewReader(raw)))

		messages, err := inbox.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "code 111222", strings.TrimSpace(messages[0].Body))
	})
}

func TestInbox(t *testing.T) {
	t.Run("消息id单调递增且按游标过滤", func(t *testing.T) {
		inbox := NewInbox()
		first := inbox.Deliver("a@mailto.plus", "x@y", "one", "")
		second := inbox.Deliver("a@mailto.plus", "x@y", "two", "")
		assert.Less(t, first, second)

		messages, err := inbox.ListMessages(context.Background(), "a@mailto.plus", first)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "two", messages[0].Subject)
	})

	t.Run("地址大小写不敏感", func(t *testing.T) {
		inbox := NewInbox()
		inbox.Deliver("Box@MAILTO.plus", "x@y", "hi", "")
		messages, err := inbox.ListMessages(context.Background(), "box@mailto.plus", 0)
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})
}
