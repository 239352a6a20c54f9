package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("提交的任务被执行", func(t *testing.T) {
		p := NewWorkerPool(2, 4, zap.NewNop())
		p.Start(context.Background())
		defer p.Stop()

		var done atomic.Int64
		for i := 0; i < 4; i++ {
			require.NoError(t, p.Submit(func(ctx context.Context) {
				done.Add(1)
			}))
		}

		assert.Eventually(t, func() bool {
			return done.Load() == 4
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("队列满时返回ErrQueueFull", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		// 不启动工作协程，队列只装得下一个任务

		require.NoError(t, p.Submit(func(ctx context.Context) {}))
		assert.ErrorIs(t, p.Submit(func(ctx context.Context) {}), ErrQueueFull)
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, zap.NewNop())
		p.Start(context.Background())
		defer p.Stop()

		require.NoError(t, p.Submit(func(ctx context.Context) {
			panic("boom")
		}))

		var done atomic.Bool
		require.NoError(t, p.Submit(func(ctx context.Context) {
			done.Store(true)
		}))

		assert.Eventually(t, done.Load, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("停止后提交返回ErrPoolStopped", func(t *testing.T) {
		p := NewWorkerPool(1, 4, zap.NewNop())
		p.Start(context.Background())
		p.Stop()

		assert.ErrorIs(t, p.Submit(func(ctx context.Context) {}), ErrPoolStopped)
	})

	t.Run("停止与并发提交不崩溃", func(t *testing.T) {
		p := NewWorkerPool(2, 8, zap.NewNop())
		p.Start(context.Background())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					// 停止后唯一合法的结果是 ErrPoolStopped，绝不允许 panic
					if err := p.Submit(func(ctx context.Context) {}); errors.Is(err, ErrPoolStopped) {
						return
					}
				}
			}()
		}

		p.Stop()
		wg.Wait()
	})

	t.Run("Stop幂等", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		p.Start(context.Background())
		p.Stop()
		p.Stop()
	})
}
