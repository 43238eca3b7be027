// Package scheduler 提供周期任务调度.
//
// 基于 Cron 表达式触发，单个任务不重叠执行：上一轮没跑完时
// 本轮直接跳过。典型用途是周期关闭已过开始时间的资源.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Tsukikage7/gather/logger"
)

// JobFunc 任务执行函数.
type JobFunc func(ctx context.Context) error

// Job 调度任务.
type Job struct {
	// Name 任务名称，唯一标识
	Name string

	// Schedule Cron 表达式
	Schedule string

	// Handler 任务处理函数
	Handler JobFunc

	// Timeout 单次执行超时，0 表示使用调度器默认值
	Timeout time.Duration

	running atomic.Bool
	entryID cron.EntryID
}

// Validate 校验任务定义.
func (j *Job) Validate() error {
	if j.Name == "" {
		return ErrJobNameEmpty
	}
	if j.Schedule == "" {
		return ErrScheduleEmpty
	}
	if j.Handler == nil {
		return ErrHandlerNil
	}
	return nil
}

// DefaultJobTimeout 默认单次执行超时.
const DefaultJobTimeout = 5 * time.Minute

// Scheduler 基于 Cron 的调度器.
type Scheduler struct {
	cron       *cron.Cron
	jobs       map[string]*Job
	log        logger.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
}

// Option 调度器配置选项.
type Option func(*options)

type options struct {
	location   *time.Location
	log        logger.Logger
	jobTimeout time.Duration
	seconds    bool
}

// WithLocation 设置时区.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
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

// WithJobTimeout 设置默认任务超时.
func WithJobTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.jobTimeout = timeout
		}
	}
}

// WithSeconds 启用秒级 Cron 表达式.
func WithSeconds() Option {
	return func(o *options) { o.seconds = true }
}

// New 创建调度器.
func New(opts ...Option) *Scheduler {
	o := &options{
		location:   time.Local,
		log:        logger.Nop(),
		jobTimeout: DefaultJobTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	cronOpts := []cron.Option{cron.WithLocation(o.location)}
	if o.seconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}

	return &Scheduler{
		cron:       cron.New(cronOpts...),
		jobs:       make(map[string]*Job),
		log:        o.log,
		jobTimeout: o.jobTimeout,
	}
}

// Add 注册任务. 启动前后均可调用.
func (s *Scheduler) Add(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrScheduleInvalid, job.Schedule, err)
	}

	job.entryID = entryID
	s.jobs[job.Name] = job

	s.log.With(
		logger.F("job", job.Name),
		logger.F("schedule", job.Schedule),
	).Debug("任务已注册")
	return nil
}

// Start 启动调度. 幂等.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return
	}
	s.started = true
	s.cron.Start()

	s.log.With(logger.F("jobs", len(s.jobs))).Info("调度器已启动")
}

// Trigger 立即执行一次指定任务，不等待调度点. 测试和运维使用.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("scheduler: 任务不存在: %s", name)
	}

	s.execute(job)
	return nil
}

// Shutdown 停止调度并等待在途任务完成.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()

	select {
	case <-cronCtx.Done():
		s.log.Info("调度器已停止")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute 执行一次任务，跳过重叠执行并兜住 panic.
func (s *Scheduler) execute(job *Job) {
	if !job.running.CompareAndSwap(false, true) {
		s.log.With(logger.F("job", job.Name)).Warn("上一轮仍在执行，本轮跳过")
		return
	}
	defer job.running.Store(false)

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.With(
				logger.F("job", job.Name),
				logger.F("panic", r),
				logger.F("stack", string(debug.Stack())),
			).Error("任务 panic")
		}
	}()

	start := time.Now()
	if err := job.Handler(ctx); err != nil {
		s.log.With(
			logger.F("job", job.Name),
			logger.F("elapsed", time.Since(start).String()),
			logger.F("error", err.Error()),
		).Error("任务执行失败")
		return
	}

	s.log.With(
		logger.F("job", job.Name),
		logger.F("elapsed", time.Since(start).String()),
	).Debug("任务执行完成")
}
