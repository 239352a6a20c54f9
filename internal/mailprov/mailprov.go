package mailprov

import (
	"context"
	"errors"

	"otpmail/bot/internal/domain"
)

// ErrProviderUnavailable 邮件提供方暂时不可用
var ErrProviderUnavailable = errors.New("mail provider unavailable")

// Provider 提供某个地址的收件箱读取能力。
//
// sinceID 是调用方已处理的最大消息 id，0 表示从头读取；
// 实现可以据此少返回数据，但调用方不依赖这一点。
type Provider interface {
	ListMessages(ctx context.Context, address string, sinceID int64) ([]domain.MailMessage, error)
}
