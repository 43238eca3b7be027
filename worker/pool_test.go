package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolDoWaitsForCompletion(t *testing.T) {
	p := New(WithSize(4), WithQueueCapacity(64))
	defer p.Shutdown(context.Background())

	var count atomic.Int64
	err := p.Do(context.Background(), func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if count.Load() != 1 {
		t.Error("Do 返回时任务应已执行")
	}
}

func TestPoolDoReturnsTaskError(t *testing.T) {
	p := New(WithSize(1))
	defer p.Shutdown(context.Background())

	want := errors.New("业务失败")
	err := p.Do(context.Background(), func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("期望任务错误透传，得到 %v", err)
	}
}

func TestPoolSaturation(t *testing.T) {
	p := New(WithSize(1), WithQueueCapacity(1))
	defer p.Shutdown(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})

	// 占住唯一的工作协程
	if err := p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	<-started

	// 填满队列
	if err := p.Submit(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("不期望错误: %v", err)
	}

	// 队列已满，应立即拒绝而不是阻塞
	var executed atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(ctx context.Context) error {
			executed.Store(true)
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSaturated) {
			t.Errorf("期望 ErrSaturated，得到 %v", err)
		}
		if executed.Load() {
			t.Error("被拒绝的任务不应执行")
		}
	case <-time.After(time.Second):
		t.Fatal("Do 阻塞了调用方")
	}

	close(block)
}

func TestPoolConcurrencyBound(t *testing.T) {
	p := New(WithSize(2), WithQueueCapacity(64))
	defer p.Shutdown(context.Background())

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("并发度超过池大小: %d", peak.Load())
	}
}

func TestPoolNilTask(t *testing.T) {
	p := New()
	defer p.Shutdown(context.Background())

	if err := p.Do(context.Background(), nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("期望 ErrNilTask，得到 %v", err)
	}
	if err := p.Submit(context.Background(), nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("期望 ErrNilTask，得到 %v", err)
	}
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := New()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("不期望错误: %v", err)
	}

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("期望 ErrClosed，得到 %v", err)
	}

	// 重复关闭应当幂等
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("重复关闭不期望错误: %v", err)
	}
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	p := New(WithSize(2))

	var count atomic.Int64
	for i := 0; i < 16; i++ {
		if err := p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("不期望错误: %v", err)
		}
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if got := count.Load(); got != 16 {
		t.Errorf("期望排空16个任务，实际 %d", got)
	}
}

func TestPoolShutdownTimeout(t *testing.T) {
	p := New(WithSize(1))

	block := make(chan struct{})
	defer close(block)

	started := make(chan struct{})
	if err := p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.Shutdown(ctx); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("期望 ErrShutdownTimeout，得到 %v", err)
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := New(WithSize(1))
	defer p.Shutdown(context.Background())

	err := p.Do(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Error("panic 应转换为错误返回")
	}

	// panic 后工作协程仍然存活
	err = p.Do(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Errorf("panic 后续任务不期望错误: %v", err)
	}
}
