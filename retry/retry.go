// Package retry 提供重试机制.
package retry

import (
	"context"
	"time"
)

// 默认配置值.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 100 * time.Millisecond
)

// BackoffFunc 计算第 n 次重试的等待时间.
type BackoffFunc func(attempt int, delay time.Duration) time.Duration

// RetryableFunc 判断错误是否应该重试.
type RetryableFunc func(err error) bool

// FixedBackoff 固定退避策略.
func FixedBackoff(_ int, delay time.Duration) time.Duration {
	return delay
}

// ExponentialBackoff 指数退避策略.
func ExponentialBackoff(attempt int, delay time.Duration) time.Duration {
	return delay * time.Duration(1<<uint(attempt))
}

// LinearBackoff 线性退避策略.
func LinearBackoff(attempt int, delay time.Duration) time.Duration {
	return delay * time.Duration(attempt+1)
}

// AlwaysRetry 总是重试.
func AlwaysRetry(_ error) bool {
	return true
}

// Retry 重试器.
type Retry struct {
	ctx         context.Context
	fn          func() error
	maxAttempts int
	delay       time.Duration
	backoff     BackoffFunc
	retryable   RetryableFunc
}

// Do 创建重试器.
//
// 使用示例:
//
//	err := retry.Do(ctx, func() error {
//	    return someOperation()
//	}).Run()
//
//	err := retry.Do(ctx, func() error {
//	    return someOperation()
//	}).WithMaxAttempts(5).WithDelay(time.Second).Run()
func Do(ctx context.Context, fn func() error) *Retry {
	return &Retry{
		ctx:         ctx,
		fn:          fn,
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultDelay,
		backoff:     FixedBackoff,
		retryable:   AlwaysRetry,
	}
}

// WithMaxAttempts 设置最大重试次数.
func (r *Retry) WithMaxAttempts(n int) *Retry {
	r.maxAttempts = n
	return r
}

// WithDelay 设置重试间隔.
func (r *Retry) WithDelay(d time.Duration) *Retry {
	r.delay = d
	return r
}

// WithBackoff 设置退避策略.
func (r *Retry) WithBackoff(b BackoffFunc) *Retry {
	r.backoff = b
	return r
}

// WithRetryable 设置重试判断函数.
func (r *Retry) WithRetryable(f RetryableFunc) *Retry {
	r.retryable = f
	return r
}

// Run 执行重试.
//
// 返回最后一次尝试的错误；达到最大次数仍失败时错误会被包装为 ErrMaxAttempts 可识别.
func (r *Retry) Run() error {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		// 检查上下文是否已取消
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		default:
		}

		lastErr = r.fn()
		if lastErr == nil {
			return nil
		}

		if !r.retryable(lastErr) {
			return lastErr
		}

		// 如果不是最后一次尝试，则等待重试延迟
		if attempt < r.maxAttempts-1 {
			wait := r.backoff(attempt, r.delay)
			select {
			case <-time.After(wait):
				continue
			case <-r.ctx.Done():
				return r.ctx.Err()
			}
		}
	}

	return &MaxAttemptsError{Attempts: r.maxAttempts, Err: lastErr}
}
