// Package worker 提供有界工作池.
//
// 入队操作从不阻塞调用方：队列满时立即返回 ErrSaturated——
// 这是独立的过载信号，不是超时。Do 等待任务执行完成并带回
// 其错误，适合限制请求路径的并发；Submit 只入队不等待，
// 适合快照刷新、通知推送这类旁路任务.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Tsukikage7/gather/logger"
)

// Task 池中执行的任务.
type Task func(ctx context.Context) error

// 默认参数.
const (
	// DefaultSize 默认工作协程数.
	DefaultSize = 8

	// DefaultQueueCapacity 默认队列容量.
	DefaultQueueCapacity = 256
)

// Pool 有界工作池.
//
// 固定数量的工作协程从有界队列中取任务执行，
// 队列满时入队立即失败而不是阻塞.
type Pool struct {
	queue   chan func()
	log     logger.Logger
	baseCtx context.Context
	cancel  context.CancelFunc

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// Option 池配置选项.
type Option func(*options)

type options struct {
	size     int
	capacity int
	log      logger.Logger
}

// WithSize 设置工作协程数.
func WithSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.size = size
		}
	}
}

// WithQueueCapacity 设置队列容量.
func WithQueueCapacity(capacity int) Option {
	return func(o *options) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// WithLogger 设置日志器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// New 创建并启动工作池.
func New(opts ...Option) *Pool {
	o := &options{
		size:     DefaultSize,
		capacity: DefaultQueueCapacity,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan func(), o.capacity),
		log:     o.log,
		baseCtx: ctx,
		cancel:  cancel,
	}

	p.wg.Add(o.size)
	for i := 0; i < o.size; i++ {
		go p.worker()
	}

	return p
}

// Do 提交任务并等待其执行完成，返回任务自身的错误.
//
// 队列满时立即返回 ErrSaturated. ctx 取消时不再等待，
// 但已入队的任务仍会被执行.
func (p *Pool) Do(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	done := make(chan error, 1)
	if err := p.enqueue(ctx, func() {
		done <- p.execute(ctx, task)
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit 提交任务但不等待完成. 任务错误只记日志.
//
// 任务以池自身的生命周期 ctx 执行——调用方的请求返回后任务仍要完成.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	return p.enqueue(ctx, func() {
		if err := p.execute(p.baseCtx, task); err != nil {
			p.log.With(logger.F("error", err.Error())).Warn("旁路任务执行失败")
		}
	})
}

// Shutdown 停止接收新任务并等待队列排空.
//
// ctx 超时或取消后放弃等待，剩余任务被丢弃.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ErrShutdownTimeout
	}
}

func (p *Pool) enqueue(ctx context.Context, run func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- run:
		return nil
	default:
		return ErrSaturated
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for run := range p.queue {
		run()
	}
}

func (p *Pool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.With(
				logger.F("panic", r),
				logger.F("stack", string(debug.Stack())),
			).Error("工作池任务 panic")
			err = fmt.Errorf("worker: 任务 panic: %v", r)
		}
	}()

	return task(ctx)
}
