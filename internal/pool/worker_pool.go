package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull 任务队列已满
	ErrQueueFull = errors.New("任务队列已满")
	// ErrPoolStopped 工作池已停止
	ErrPoolStopped = errors.New("工作池已停止")
)

// Task 提交给工作池执行的任务
type Task func(ctx context.Context)

// WorkerPool 固定大小的工作池
//
// 轮询和通知发送在此池中执行，避免为每个会话
// 启动无界 goroutine。
type WorkerPool struct {
	workers int
	queue   chan Task
	log     *zap.Logger

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once

	// mu 保护 stopped，确保 Submit 不会写入已关闭的队列
	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建工作池
func NewWorkerPool(workers, queueSize int, log *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &WorkerPool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		log:     log,
	}
}

// Start 启动所有工作协程
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.execute(ctx, id, task)
		}
	}
}

func (p *WorkerPool) execute(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("工作协程任务 panic",
				zap.Int("worker", id),
				zap.Any("panic", r))
		}
	}()
	task(ctx)
}

// Submit 非阻塞提交任务。
// 队列满时返回 ErrQueueFull，池已停止时返回 ErrPoolStopped。
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 停止工作池并等待在执行的任务结束。
// 关闭队列前先置停止标记，与 Submit 串行化。
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		if p.cancel != nil {
			p.cancel()
		}
		close(p.queue)
	})
	p.wg.Wait()
}
