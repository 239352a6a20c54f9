package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/otp"
)

// Display 负责把倒计时状态渲染到会话消息上。
//
// ShowCode 发送新消息并返回消息句柄，其余方法编辑已有消息。
type Display interface {
	ShowCode(ctx context.Context, chatID int64, code string, remaining int) (messageID int64, err error)
	UpdateCode(ctx context.Context, chatID, messageID int64, code string, remaining int) error
	ShowExpired(ctx context.Context, chatID, messageID int64) error
	ShowClaimed(ctx context.Context, chatID, messageID int64, code string) error
}

// timer 单个会话的倒计时实例
type timer struct {
	chatID    int64
	secret    string
	messageID int64
	step      int64
	gen       uint64
	cancel    context.CancelFunc
}

// Scheduler 管理每个会话至多一个的验证码倒计时。
//
// 状态机：空闲 → 运行 → {过期, 已领取} → 空闲。
// 同一会话重复 Start 会原子地替换旧定时器；被替换实例
// 尚在途的滴答通过代数比对自行丢弃，绝不编辑新实例的消息。
type Scheduler struct {
	display  Display
	metrics  *monitoring.Metrics
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	timers map[int64]*timer
	locks  map[int64]*sync.Mutex
	gen    uint64

	base     context.Context
	baseStop context.CancelFunc
}

// New 创建调度器
func New(display Display, metrics *monitoring.Metrics, log *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		display:  display,
		metrics:  metrics,
		log:      log,
		interval: interval,
		now:      time.Now,
		timers:   make(map[int64]*timer),
		locks:    make(map[int64]*sync.Mutex),
		base:     base,
		baseStop: cancel,
	}
}

// chatLock 返回会话级互斥锁，首次访问时创建
func (s *Scheduler) chatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[chatID] = lock
	}
	return lock
}

// Start 校验密钥并启动倒计时。
//
// 密钥非法时同步返回 otp.ErrInvalidSecret 且不产生任何副作用；
// 会话已有定时器时先停掉旧实例再启动新实例。
func (s *Scheduler) Start(ctx context.Context, chatID int64, secret string) error {
	startedAt := s.now()
	code, remaining, err := otp.Generate(secret, startedAt)
	if err != nil {
		return err
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if s.removeTimer(chatID, nil) {
		s.metrics.TimersSuperseded.Inc()
	}

	messageID, err := s.display.ShowCode(ctx, chatID, code, remaining)
	if err != nil {
		return fmt.Errorf("发送倒计时消息: %w", err)
	}

	tickCtx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.gen++
	t := &timer{
		chatID:    chatID,
		secret:    secret,
		messageID: messageID,
		step:      otp.StepIndex(startedAt),
		gen:       s.gen,
		cancel:    cancel,
	}
	s.timers[chatID] = t
	s.mu.Unlock()

	s.metrics.TimersStarted.Inc()
	s.metrics.TimersActive.Inc()

	go s.run(tickCtx, t)
	return nil
}

// Acknowledge 用户领取验证码，定时器转入终态。空闲会话上调用是空操作。
func (s *Scheduler) Acknowledge(ctx context.Context, chatID int64) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	t, ok := s.timers[chatID]
	s.mu.Unlock()
	if !ok {
		return
	}

	code, _, err := otp.Generate(t.secret, s.now())
	s.removeTimer(chatID, t)

	if err == nil {
		if editErr := s.display.ShowClaimed(ctx, chatID, t.messageID, code); editErr != nil {
			s.log.Warn("领取编辑失败",
				zap.Int64("chat_id", chatID),
				zap.Error(editErr))
		}
	}
	s.metrics.TimersClaimed.Inc()
}

// Stop 取消会话的定时器，不做终态编辑。可重复调用。
//
// 返回后被取消实例的滴答不会再触碰任何消息。
func (s *Scheduler) Stop(chatID int64) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()
	s.removeTimer(chatID, nil)
}

// Active 报告会话当前是否有运行中的定时器
func (s *Scheduler) Active(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[chatID]
	return ok
}

// Close 停止全部定时器
func (s *Scheduler) Close() {
	s.baseStop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for chatID, t := range s.timers {
		t.cancel()
		delete(s.timers, chatID)
		s.metrics.TimersActive.Dec()
	}
}

// removeTimer 取消并移除定时器。expect 非空时只移除该实例，
// 代数不符说明实例已被替换，直接放弃。返回是否真的移除了。
func (s *Scheduler) removeTimer(chatID int64, expect *timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[chatID]
	if !ok {
		return false
	}
	if expect != nil && t.gen != expect.gen {
		return false
	}
	t.cancel()
	delete(s.timers, chatID)
	s.metrics.TimersActive.Dec()
	return true
}

// current 报告实例是否仍是会话的在任定时器
func (s *Scheduler) current(t *timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[t.chatID]
	return ok && cur.gen == t.gen
}

func (s *Scheduler) run(ctx context.Context, t *timer) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx, t) {
				return
			}
		}
	}
}

// tick 执行一次刷新，返回 false 表示实例结束。
// 持有会话锁，保证与 Start/Acknowledge/Stop 互斥。
func (s *Scheduler) tick(ctx context.Context, t *timer) bool {
	lock := s.chatLock(t.chatID)
	lock.Lock()
	defer lock.Unlock()

	if !s.current(t) {
		return false
	}

	now := s.now()
	if otp.StepIndex(now) != t.step {
		s.expire(ctx, t)
		return false
	}

	code, remaining, err := otp.Generate(t.secret, now)
	if err != nil {
		// Start 时已校验过密钥，理论上不可达
		s.log.Error("重算验证码失败", zap.Int64("chat_id", t.chatID), zap.Error(err))
		s.removeTimer(t.chatID, t)
		return false
	}

	if err := s.display.UpdateCode(ctx, t.chatID, t.messageID, code, remaining); err != nil {
		s.log.Warn("倒计时编辑被拒绝，终止该实例",
			zap.Int64("chat_id", t.chatID),
			zap.Int64("message_id", t.messageID),
			zap.Error(err))
		s.removeTimer(t.chatID, t)
		return false
	}
	return true
}

// expire 步进边界已越过，推送一次过期编辑并销毁实例
func (s *Scheduler) expire(ctx context.Context, t *timer) {
	s.removeTimer(t.chatID, t)
	if err := s.display.ShowExpired(ctx, t.chatID, t.messageID); err != nil {
		s.log.Warn("过期编辑失败",
			zap.Int64("chat_id", t.chatID),
			zap.Error(err))
	}
	s.metrics.TimersExpired.Inc()
}
