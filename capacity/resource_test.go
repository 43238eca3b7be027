package capacity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newResource(capacity, count int, status Status) *Resource {
	return &Resource{
		ID:           1,
		Type:         TypeGroup,
		Kind:         KindGroup,
		Capacity:     capacity,
		CurrentCount: count,
		Status:       status,
		OwnerID:      100,
	}
}

func TestResourceJoin(t *testing.T) {
	now := time.Now()

	t.Run("未满时加入递增人数", func(t *testing.T) {
		r := newResource(3, 1, StatusOpen)

		require.NoError(t, r.Join(now))
		require.Equal(t, 2, r.CurrentCount)
		require.Equal(t, StatusOpen, r.Status)
	})

	t.Run("加入至满员进入full", func(t *testing.T) {
		r := newResource(3, 2, StatusOpen)

		require.NoError(t, r.Join(now))
		require.Equal(t, 3, r.CurrentCount)
		require.Equal(t, StatusFull, r.Status)
	})

	t.Run("满员拒绝加入", func(t *testing.T) {
		r := newResource(2, 2, StatusFull)

		err := r.Join(now)
		require.ErrorIs(t, err, ErrCapacityExceeded)
		require.Equal(t, 2, r.CurrentCount)
	})

	t.Run("closed为终态拒绝加入", func(t *testing.T) {
		r := newResource(5, 1, StatusClosed)

		require.ErrorIs(t, r.Join(now), ErrResourceClosed)
	})

	t.Run("已过开始时间拒绝加入", func(t *testing.T) {
		r := newResource(5, 1, StatusOpen)
		past := now.Add(-time.Hour)
		r.StartsAt = &past

		require.ErrorIs(t, r.Join(now), ErrAlreadyStarted)
	})

	t.Run("开始时间在未来不影响加入", func(t *testing.T) {
		r := newResource(5, 1, StatusOpen)
		future := now.Add(time.Hour)
		r.StartsAt = &future

		require.NoError(t, r.Join(now))
	})
}

func TestResourceLeave(t *testing.T) {
	now := time.Now()

	t.Run("满员资源退出后回到open", func(t *testing.T) {
		r := newResource(2, 2, StatusFull)

		require.NoError(t, r.Leave(now, DefaultCleanupThreshold))
		require.Equal(t, 1, r.CurrentCount)
		require.Equal(t, StatusOpen, r.Status)
	})

	t.Run("人数为零拒绝退出", func(t *testing.T) {
		r := newResource(3, 0, StatusOpen)

		require.ErrorIs(t, r.Leave(now, DefaultCleanupThreshold), ErrNotMember)
	})

	t.Run("closed拒绝退出", func(t *testing.T) {
		r := newResource(3, 2, StatusClosed)

		require.ErrorIs(t, r.Leave(now, DefaultCleanupThreshold), ErrResourceClosed)
	})

	t.Run("已开始且剩余人数高于阈值拒绝退出", func(t *testing.T) {
		r := newResource(5, 4, StatusOpen)
		past := now.Add(-time.Hour)
		r.StartsAt = &past

		err := r.Leave(now, DefaultCleanupThreshold)
		require.ErrorIs(t, err, ErrAlreadyStarted)
		require.Equal(t, 4, r.CurrentCount)
	})

	t.Run("已开始但会触发解散的退出被允许", func(t *testing.T) {
		r := newResource(5, 2, StatusOpen)
		past := now.Add(-time.Hour)
		r.StartsAt = &past

		require.NoError(t, r.Leave(now, DefaultCleanupThreshold))
		require.Equal(t, 1, r.CurrentCount)
	})
}

func TestResourceClose(t *testing.T) {
	r := newResource(3, 2, StatusOpen)

	r.Close()
	require.Equal(t, StatusClosed, r.Status)

	// 幂等
	r.Close()
	require.Equal(t, StatusClosed, r.Status)
}

func TestResourceInvariant(t *testing.T) {
	// 人数被绕过锁的写入推高到超过容量
	r := newResource(2, 2, StatusOpen)
	r.Capacity = 1

	err := r.Join(time.Now())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrInvariantViolated))
}

func TestResourceStarted(t *testing.T) {
	now := time.Now()

	r := newResource(3, 1, StatusOpen)
	require.False(t, r.Started(now), "无开始时间的资源永不开始")

	at := now.Add(time.Minute)
	r.StartsAt = &at
	require.False(t, r.Started(now))
	require.True(t, r.Started(now.Add(time.Minute)), "开始时刻本身算已开始")
	require.True(t, r.Started(now.Add(2*time.Minute)))
}
