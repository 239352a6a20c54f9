package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/service"
	"otpmail/bot/internal/transport/telegram"
)

// api 是机器人层用到的 Bot API 调用子集
type api interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	EditMessageText(ctx context.Context, req telegram.EditMessageTextRequest) error
	AnswerCallbackQuery(ctx context.Context, req telegram.AnswerCallbackQueryRequest) error
	SendDocument(ctx context.Context, chatID int64, filename, caption string, content []byte) error
}

// Display 把倒计时状态渲染成聊天消息，供调度器驱动
type Display struct {
	client api
}

// NewDisplay 创建倒计时显示适配器
func NewDisplay(client api) *Display {
	return &Display{client: client}
}

// ShowCode 发送初始倒计时消息
func (d *Display) ShowCode(ctx context.Context, chatID int64, code string, remaining int) (int64, error) {
	msg, err := d.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:      chatID,
		Text:        formatCountdown(code, remaining),
		ParseMode:   "HTML",
		ReplyMarkup: claimMarkup(),
	})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// UpdateCode 刷新倒计时消息
func (d *Display) UpdateCode(ctx context.Context, chatID, messageID int64, code string, remaining int) error {
	return d.client.EditMessageText(ctx, telegram.EditMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        formatCountdown(code, remaining),
		ParseMode:   "HTML",
		ReplyMarkup: claimMarkup(),
	})
}

// ShowExpired 推送过期终态
func (d *Display) ShowExpired(ctx context.Context, chatID, messageID int64) error {
	return d.client.EditMessageText(ctx, telegram.EditMessageTextRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      "⌛ <b>OTP EXPIRED</b>\nSend your secret again for a fresh code.",
		ParseMode: "HTML",
	})
}

// ShowClaimed 推送领取终态
func (d *Display) ShowClaimed(ctx context.Context, chatID, messageID int64, code string) error {
	return d.client.EditMessageText(ctx, telegram.EditMessageTextRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      fmt.Sprintf("✅ <b>OTP CLAIMED!</b>\n🔑 <b>%s</b>", code),
		ParseMode: "HTML",
	})
}

// CodeNotifier 把轮询器提取到的验证码推送给会话。
// 会话开了自动生成时，推送后立刻换一个新邮箱。
type CodeNotifier struct {
	client   api
	sessions *service.SessionService
	log      *zap.Logger
}

// NewCodeNotifier 创建验证码通知器
func NewCodeNotifier(client api, sessions *service.SessionService, log *zap.Logger) *CodeNotifier {
	return &CodeNotifier{client: client, sessions: sessions, log: log}
}

// NotifyCode 实现 poller.Notifier
func (n *CodeNotifier) NotifyCode(ctx context.Context, notification domain.CodeNotification) error {
	text := fmt.Sprintf("📬 <b>%s</b>\n🔑 Code: <code>%s</code>",
		notification.Sender, notification.Code)
	if _, err := n.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:    notification.ChatID,
		Text:      text,
		ParseMode: "HTML",
	}); err != nil {
		return err
	}

	sess, err := n.sessions.Get(notification.ChatID)
	if err != nil || !sess.AutoGenerate {
		return nil
	}
	address, err := n.sessions.GenerateMailbox(notification.ChatID)
	if err != nil {
		n.log.Warn("自动生成新邮箱失败",
			zap.Int64("chat_id", notification.ChatID),
			zap.Error(err))
		return nil
	}
	_, err = n.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:    notification.ChatID,
		Text:      fmt.Sprintf("♻️ New mailbox ready:\n<code>%s</code>", address),
		ParseMode: "HTML",
	})
	return err
}
