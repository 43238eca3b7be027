package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("成功不重试", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func() error {
			calls++
			return nil
		}).Run()
		if err != nil {
			t.Errorf("不期望错误: %v", err)
		}
		if calls != 1 {
			t.Errorf("期望调用 1 次，实际 %d 次", calls)
		}
	})

	t.Run("重试后成功", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}).WithMaxAttempts(5).WithDelay(time.Millisecond).Run()
		if err != nil {
			t.Errorf("不期望错误: %v", err)
		}
		if calls != 3 {
			t.Errorf("期望调用 3 次，实际 %d 次", calls)
		}
	})

	t.Run("重试耗尽", func(t *testing.T) {
		base := errors.New("still broken")
		calls := 0
		err := Do(ctx, func() error {
			calls++
			return base
		}).WithMaxAttempts(3).WithDelay(time.Millisecond).Run()

		if calls != 3 {
			t.Errorf("期望调用 3 次，实际 %d 次", calls)
		}
		if !errors.Is(err, ErrMaxAttempts) {
			t.Errorf("期望 ErrMaxAttempts，得到 %v", err)
		}
		if !errors.Is(err, base) {
			t.Errorf("期望保留原始错误，得到 %v", err)
		}
	})

	t.Run("不可重试错误直接返回", func(t *testing.T) {
		fatal := errors.New("fatal")
		calls := 0
		err := Do(ctx, func() error {
			calls++
			return fatal
		}).WithMaxAttempts(5).WithDelay(time.Millisecond).
			WithRetryable(func(err error) bool { return false }).Run()

		if calls != 1 {
			t.Errorf("期望调用 1 次，实际 %d 次", calls)
		}
		if !errors.Is(err, fatal) {
			t.Errorf("期望原始错误，得到 %v", err)
		}
	})

	t.Run("上下文取消", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := Do(cancelled, func() error {
			return errors.New("never succeeds")
		}).Run()
		if !errors.Is(err, context.Canceled) {
			t.Errorf("期望 context.Canceled，得到 %v", err)
		}
	})
}

func TestBackoff(t *testing.T) {
	delay := 100 * time.Millisecond

	if FixedBackoff(5, delay) != delay {
		t.Error("固定退避应返回固定间隔")
	}
	if ExponentialBackoff(0, delay) != delay {
		t.Error("指数退避第 0 次应返回基础间隔")
	}
	if ExponentialBackoff(2, delay) != 4*delay {
		t.Error("指数退避第 2 次应返回 4 倍间隔")
	}
	if LinearBackoff(2, delay) != 3*delay {
		t.Error("线性退避第 2 次应返回 3 倍间隔")
	}
}
