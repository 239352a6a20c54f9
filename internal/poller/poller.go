package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/extract"
	"otpmail/bot/internal/mailprov"
	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/pool"
	"otpmail/bot/internal/storage"
)

// Notifier 把提取到的验证码推送给会话
type Notifier interface {
	NotifyCode(ctx context.Context, notification domain.CodeNotification) error
}

// Poller 周期性扫描所有激活邮箱的收件箱。
//
// 每轮每个会话只处理最新的一封未读邮件，并且无论是否提取到
// 验证码都把去重游标推进到该邮件，保证同一封邮件至多通知一次。
type Poller struct {
	store    storage.SessionRepository
	provider mailprov.Provider
	notifier Notifier
	workers  *pool.WorkerPool
	metrics  *monitoring.Metrics
	log      *zap.Logger
	interval time.Duration
}

// New 创建轮询器
func New(
	store storage.SessionRepository,
	provider mailprov.Provider,
	notifier Notifier,
	workers *pool.WorkerPool,
	metrics *monitoring.Metrics,
	log *zap.Logger,
	interval time.Duration,
) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		store:    store,
		provider: provider,
		notifier: notifier,
		workers:  workers,
		metrics:  metrics,
		log:      log,
		interval: interval,
	}
}

// Run 启动扫描循环，直到 ctx 取消
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep 把每个待轮询会话的抓取任务提交到工作池
func (p *Poller) sweep(ctx context.Context) {
	p.metrics.PollSweeps.Inc()

	sessions := p.store.ListPollable()
	for _, sess := range sessions {
		sess := sess
		err := p.workers.Submit(func(taskCtx context.Context) {
			p.pollSession(taskCtx, sess)
		})
		switch {
		case errors.Is(err, pool.ErrPoolStopped):
			// 关停过程中丢弃剩余会话
			return
		case err != nil:
			p.log.Warn("工作池队列已满，会话顺延到下一轮",
				zap.Int64("chat_id", sess.ChatID))
		}
	}
}

// pollSession 处理单个会话的一次抓取。
// 任何失败只影响该会话本轮，下一轮照常重试。
func (p *Poller) pollSession(ctx context.Context, sess domain.Session) {
	messages, err := p.provider.ListMessages(ctx, sess.ActiveMailbox, sess.LastSeenID)
	if err != nil {
		p.metrics.ProviderErrors.Inc()
		p.log.Warn("拉取收件箱失败",
			zap.Int64("chat_id", sess.ChatID),
			zap.String("address", sess.ActiveMailbox),
			zap.Error(err))
		return
	}

	var newest *domain.MailMessage
	for i := range messages {
		m := &messages[i]
		if m.ID <= sess.LastSeenID {
			continue
		}
		if newest == nil || m.ID > newest.ID {
			newest = m
		}
	}
	if newest == nil {
		return
	}
	p.metrics.MessagesInspected.Inc()

	// 先推进游标再通知：游标写入被拒绝说明会话已切换邮箱
	// 或有并发实例抢先处理，此时放弃通知即可保证不重复推送。
	if err := p.store.SetLastSeenID(sess.ChatID, sess.ActiveMailbox, newest.ID); err != nil {
		if errors.Is(err, storage.ErrMailboxNotOwned) {
			p.log.Debug("会话已切换邮箱，丢弃滞后消息",
				zap.Int64("chat_id", sess.ChatID),
				zap.String("address", sess.ActiveMailbox))
			return
		}
		p.log.Warn("推进去重游标失败",
			zap.Int64("chat_id", sess.ChatID),
			zap.Error(err))
		return
	}

	code, ok := extract.Code(newest.Subject, newest.Body)
	if !ok {
		return
	}
	p.metrics.CodesExtracted.Inc()

	notification := domain.CodeNotification{
		ChatID:    sess.ChatID,
		Sender:    extract.NormalizeSender(newest.Sender),
		Code:      code,
		MessageID: newest.ID,
	}
	if err := p.notifier.NotifyCode(ctx, notification); err != nil {
		p.log.Warn("推送验证码通知失败",
			zap.Int64("chat_id", sess.ChatID),
			zap.Error(err))
	}
}
