package smtp

import (
	"context"
	"strings"
	"sync"

	"otpmail/bot/internal/domain"
)

// Inbox 本地收信模式下的内存收件箱。
//
// 消息 id 全局单调递增，与轮询器的去重游标语义一致。
type Inbox struct {
	mu       sync.RWMutex
	messages map[string][]domain.MailMessage
	nextID   int64
}

// NewInbox 创建内存收件箱
func NewInbox() *Inbox {
	return &Inbox{messages: make(map[string][]domain.MailMessage)}
}

// Deliver 把一封邮件投递到指定地址，返回分配的消息 id
func (i *Inbox) Deliver(address, sender, subject, body string) int64 {
	key := strings.ToLower(address)
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextID++
	i.messages[key] = append(i.messages[key], domain.MailMessage{
		ID:      i.nextID,
		Sender:  sender,
		Subject: subject,
		Body:    body,
	})
	return i.nextID
}

// ListMessages 实现 mailprov.Provider
func (i *Inbox) ListMessages(_ context.Context, address string, sinceID int64) ([]domain.MailMessage, error) {
	key := strings.ToLower(address)
	i.mu.RLock()
	defer i.mu.RUnlock()
	stored := i.messages[key]
	out := make([]domain.MailMessage, 0, len(stored))
	for _, m := range stored {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	return out, nil
}
