package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"otpmail/bot/internal/transport/telegram"
)

// updateSource 更新来源，长轮询模式下由 Bot API 客户端实现
type updateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Consumer 长轮询消费循环
type Consumer struct {
	source  updateSource
	handler *Handler
	log     *zap.Logger
}

// NewConsumer 创建长轮询消费者
func NewConsumer(source updateSource, handler *Handler, log *zap.Logger) *Consumer {
	return &Consumer{source: source, handler: handler, log: log}
}

// Run 持续拉取并分发更新，直到 ctx 取消。
// 拉取失败退避后重试，单条更新的处理错误不会中断循环。
func (c *Consumer) Run(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := c.source.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("拉取更新失败", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			c.handler.HandleUpdate(ctx, update)
		}
	}
}
