package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/otp"
)

const testSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

// stepStart 对齐到 30 秒步进起点的基准时间
var stepStart = time.Unix(1699999980, 0)

type displayCall struct {
	kind      string
	chatID    int64
	messageID int64
	code      string
	remaining int
}

type fakeDisplay struct {
	mu         sync.Mutex
	calls      []displayCall
	nextID     int64
	failUpdate bool
}

func (d *fakeDisplay) ShowCode(_ context.Context, chatID int64, code string, remaining int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.calls = append(d.calls, displayCall{"show", chatID, d.nextID, code, remaining})
	return d.nextID, nil
}

func (d *fakeDisplay) UpdateCode(_ context.Context, chatID, messageID int64, code string, remaining int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failUpdate {
		return errors.New("message to edit not found")
	}
	d.calls = append(d.calls, displayCall{"update", chatID, messageID, code, remaining})
	return nil
}

func (d *fakeDisplay) ShowExpired(_ context.Context, chatID, messageID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, displayCall{kind: "expired", chatID: chatID, messageID: messageID})
	return nil
}

func (d *fakeDisplay) ShowClaimed(_ context.Context, chatID, messageID int64, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, displayCall{kind: "claimed", chatID: chatID, messageID: messageID, code: code})
	return nil
}

func (d *fakeDisplay) snapshot() []displayCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]displayCall, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDisplay) count(kind string) int {
	n := 0
	for _, c := range d.snapshot() {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestScheduler(t *testing.T, display Display) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: stepStart}
	s := New(display, monitoring.NewNopMetrics(), zap.NewNop(), 5*time.Millisecond)
	s.now = clock.Now
	t.Cleanup(s.Close)
	return s, clock
}

func TestScheduler_Start(t *testing.T) {
	t.Run("非法密钥同步报错且无副作用", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		err := s.Start(context.Background(), 1, "not a secret!")
		require.ErrorIs(t, err, otp.ErrInvalidSecret)
		assert.Empty(t, display.snapshot())
		assert.False(t, s.Active(1))
	})

	t.Run("启动发送初始倒计时消息", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		assert.True(t, s.Active(1))

		wantCode, wantRemaining, err := otp.Generate(testSecret, stepStart)
		require.NoError(t, err)

		calls := display.snapshot()
		require.Len(t, calls, 1)
		assert.Equal(t, "show", calls[0].kind)
		assert.Equal(t, wantCode, calls[0].code)
		assert.Equal(t, wantRemaining, calls[0].remaining)
	})
}

func TestScheduler_Tick(t *testing.T) {
	t.Run("同一步进内持续刷新且验证码不变", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		require.Eventually(t, func() bool {
			return display.count("update") >= 3
		}, time.Second, time.Millisecond)

		wantCode, _, err := otp.Generate(testSecret, stepStart)
		require.NoError(t, err)
		for _, c := range display.snapshot() {
			if c.kind != "update" {
				continue
			}
			assert.Equal(t, wantCode, c.code)
			assert.GreaterOrEqual(t, c.remaining, 1)
			assert.LessOrEqual(t, c.remaining, 30)
		}
	})

	t.Run("跨过步进边界后过期并销毁", func(t *testing.T) {
		display := &fakeDisplay{}
		s, clock := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		clock.Set(stepStart.Add(30 * time.Second))

		require.Eventually(t, func() bool {
			return display.count("expired") == 1
		}, time.Second, time.Millisecond)
		assert.False(t, s.Active(1))

		// 过期编辑是该实例的最后一次显示调用
		calls := display.snapshot()
		assert.Equal(t, "expired", calls[len(calls)-1].kind)
	})

	t.Run("编辑被拒绝时实例终止", func(t *testing.T) {
		display := &fakeDisplay{failUpdate: true}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		require.Eventually(t, func() bool {
			return !s.Active(1)
		}, time.Second, time.Millisecond)

		assert.Zero(t, display.count("expired"))
		assert.Zero(t, display.count("claimed"))
	})
}

func TestScheduler_Acknowledge(t *testing.T) {
	t.Run("领取后推送终态编辑并销毁定时器", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		s.Acknowledge(context.Background(), 1)

		assert.False(t, s.Active(1))
		require.Equal(t, 1, display.count("claimed"))

		wantCode, _, err := otp.Generate(testSecret, stepStart)
		require.NoError(t, err)
		for _, c := range display.snapshot() {
			if c.kind == "claimed" {
				assert.Equal(t, wantCode, c.code)
			}
		}
	})

	t.Run("空闲会话上领取是空操作", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		s.Acknowledge(context.Background(), 42)
		assert.Empty(t, display.snapshot())
	})

	t.Run("重复领取不产生第二次编辑", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		s.Acknowledge(context.Background(), 1)
		s.Acknowledge(context.Background(), 1)

		assert.Equal(t, 1, display.count("claimed"))
	})
}

func TestScheduler_Supersede(t *testing.T) {
	t.Run("重复启动替换旧实例", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		require.NoError(t, s.Start(context.Background(), 1, testSecret))

		assert.True(t, s.Active(1))
		assert.Equal(t, 2, display.count("show"))

		// 第二次启动返回后旧实例不再编辑消息
		mark := len(display.snapshot())
		require.Eventually(t, func() bool {
			return display.count("update") >= 2
		}, time.Second, time.Millisecond)
		for _, c := range display.snapshot()[mark:] {
			if c.kind == "update" {
				assert.Equal(t, int64(2), c.messageID)
			}
		}
	})
}

func TestScheduler_Stop(t *testing.T) {
	t.Run("停止幂等且不做终态编辑", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		require.NoError(t, s.Start(context.Background(), 1, testSecret))
		s.Stop(1)
		s.Stop(1)

		assert.False(t, s.Active(1))
		assert.Zero(t, display.count("expired"))
		assert.Zero(t, display.count("claimed"))
	})
}

func TestScheduler_Concurrent(t *testing.T) {
	t.Run("并发启动互不干扰", func(t *testing.T) {
		display := &fakeDisplay{}
		s, _ := newTestScheduler(t, display)

		const sessions = 20
		var wg sync.WaitGroup
		for i := 0; i < sessions; i++ {
			wg.Add(1)
			go func(chatID int64) {
				defer wg.Done()
				assert.NoError(t, s.Start(context.Background(), chatID, testSecret))
			}(int64(i + 1))
		}
		wg.Wait()

		for i := 1; i <= sessions; i++ {
			assert.True(t, s.Active(int64(i)), fmt.Sprintf("chat %d", i))
		}

		s.Close()
		for i := 1; i <= sessions; i++ {
			assert.False(t, s.Active(int64(i)))
		}
	})
}
