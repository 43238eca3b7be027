package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobValidate(t *testing.T) {
	handler := func(ctx context.Context) error { return nil }

	tests := []struct {
		name string
		job  *Job
		want error
	}{
		{"缺少名称", &Job{Schedule: "* * * * *", Handler: handler}, ErrJobNameEmpty},
		{"缺少表达式", &Job{Name: "j", Handler: handler}, ErrScheduleEmpty},
		{"缺少处理函数", &Job{Name: "j", Schedule: "* * * * *"}, ErrHandlerNil},
		{"完整定义", &Job{Name: "j", Schedule: "* * * * *", Handler: handler}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.job.Validate(), tt.want)
		})
	}
}

func TestSchedulerAdd(t *testing.T) {
	s := New()
	handler := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Add(&Job{Name: "j1", Schedule: "* * * * *", Handler: handler}))

	t.Run("重名被拒绝", func(t *testing.T) {
		err := s.Add(&Job{Name: "j1", Schedule: "* * * * *", Handler: handler})
		require.ErrorIs(t, err, ErrJobExists)
	})

	t.Run("非法表达式被拒绝", func(t *testing.T) {
		err := s.Add(&Job{Name: "j2", Schedule: "not a cron", Handler: handler})
		require.ErrorIs(t, err, ErrScheduleInvalid)
	})

	t.Run("关闭后拒绝注册", func(t *testing.T) {
		require.NoError(t, s.Shutdown(context.Background()))

		err := s.Add(&Job{Name: "j3", Schedule: "* * * * *", Handler: handler})
		require.ErrorIs(t, err, ErrSchedulerClosed)
	})
}

func TestSchedulerTrigger(t *testing.T) {
	s := New()

	var runs atomic.Int64
	require.NoError(t, s.Add(&Job{
		Name:     "count",
		Schedule: "* * * * *",
		Handler: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Trigger("count"))
	require.NoError(t, s.Trigger("count"))
	require.EqualValues(t, 2, runs.Load())

	require.Error(t, s.Trigger("missing"))
}

func TestSchedulerSkipsOverlap(t *testing.T) {
	s := New()

	block := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int64

	require.NoError(t, s.Add(&Job{
		Name:     "slow",
		Schedule: "* * * * *",
		Handler: func(ctx context.Context) error {
			runs.Add(1)
			close(started)
			<-block
			return nil
		},
	}))

	go s.Trigger("slow")
	<-started

	// 第一轮尚未结束，第二轮应被跳过
	require.NoError(t, s.Trigger("slow"))
	require.EqualValues(t, 1, runs.Load())

	close(block)
}

func TestSchedulerRecoversPanic(t *testing.T) {
	s := New()

	require.NoError(t, s.Add(&Job{
		Name:     "boom",
		Schedule: "* * * * *",
		Handler: func(ctx context.Context) error {
			panic("boom")
		},
	}))

	require.NotPanics(t, func() {
		require.NoError(t, s.Trigger("boom"))
	})

	// panic 后任务仍可再次执行
	require.NoError(t, s.Trigger("boom"))
}

func TestSchedulerJobTimeout(t *testing.T) {
	s := New(WithJobTimeout(20 * time.Millisecond))

	var gotDeadline atomic.Bool
	require.NoError(t, s.Add(&Job{
		Name:     "deadline",
		Schedule: "* * * * *",
		Handler: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				gotDeadline.Store(true)
				return ctx.Err()
			case <-time.After(time.Second):
				return errors.New("超时未生效")
			}
		},
	}))

	require.NoError(t, s.Trigger("deadline"))
	require.True(t, gotDeadline.Load())
}

func TestSchedulerShutdownIsIdempotent(t *testing.T) {
	s := New()
	s.Start()

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
}
