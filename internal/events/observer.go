package events

import (
	"context"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/poller"
	"otpmail/bot/internal/scheduler"
)

// ObservedDisplay 在倒计时显示之外同步广播定时器生命周期事件
type ObservedDisplay struct {
	inner scheduler.Display
	hub   *Hub
}

// NewObservedDisplay 包装一个倒计时显示
func NewObservedDisplay(inner scheduler.Display, hub *Hub) *ObservedDisplay {
	return &ObservedDisplay{inner: inner, hub: hub}
}

func (d *ObservedDisplay) ShowCode(ctx context.Context, chatID int64, code string, remaining int) (int64, error) {
	messageID, err := d.inner.ShowCode(ctx, chatID, code, remaining)
	if err == nil {
		d.hub.PublishTimerStarted(chatID)
	}
	return messageID, err
}

func (d *ObservedDisplay) UpdateCode(ctx context.Context, chatID, messageID int64, code string, remaining int) error {
	return d.inner.UpdateCode(ctx, chatID, messageID, code, remaining)
}

func (d *ObservedDisplay) ShowExpired(ctx context.Context, chatID, messageID int64) error {
	err := d.inner.ShowExpired(ctx, chatID, messageID)
	d.hub.PublishTimerExpired(chatID)
	return err
}

func (d *ObservedDisplay) ShowClaimed(ctx context.Context, chatID, messageID int64, code string) error {
	err := d.inner.ShowClaimed(ctx, chatID, messageID, code)
	d.hub.PublishTimerClaimed(chatID)
	return err
}

// ObservedNotifier 在验证码推送之外广播提取事件
type ObservedNotifier struct {
	inner poller.Notifier
	hub   *Hub
}

// NewObservedNotifier 包装一个验证码通知器
func NewObservedNotifier(inner poller.Notifier, hub *Hub) *ObservedNotifier {
	return &ObservedNotifier{inner: inner, hub: hub}
}

func (n *ObservedNotifier) NotifyCode(ctx context.Context, notification domain.CodeNotification) error {
	err := n.inner.NotifyCode(ctx, notification)
	if err == nil {
		n.hub.PublishCodeExtracted(notification)
	}
	return err
}
