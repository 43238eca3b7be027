package lock

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Tsukikage7/gather/database"
	"github.com/Tsukikage7/gather/logger"
)

// counterRow 测试用计数表.
type counterRow struct {
	ID    uint64 `gorm:"primaryKey"`
	Count int
}

func (counterRow) TableName() string { return "counters" }

// countingSession 包装 SessionLocker，统计加锁/解锁次数.
type countingSession struct {
	inner    SessionLocker
	acquires atomic.Int64
	releases atomic.Int64
}

func (c *countingSession) TryAcquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	ok, err := c.inner.TryAcquire(ctx, conn, key, timeout)
	if ok {
		c.acquires.Add(1)
	}
	return ok, err
}

func (c *countingSession) Release(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
	c.releases.Add(1)
	return c.inner.Release(ctx, conn, key)
}

// flakySession 前 n 次 TryAcquire 返回瞬时错误.
type flakySession struct {
	inner    SessionLocker
	failures atomic.Int64
	failN    int64
}

func (f *flakySession) TryAcquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	if f.failures.Add(1) <= f.failN {
		return false, errors.New("connection reset")
	}
	return f.inner.TryAcquire(ctx, conn, key, timeout)
}

func (f *flakySession) Release(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
	return f.inner.Release(ctx, conn, key)
}

// cancellingSession 在加锁时取消调用方的上下文，模拟请求中途取消.
type cancellingSession struct {
	cancel context.CancelFunc
}

func (c *cancellingSession) TryAcquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	c.cancel()
	return false, ctx.Err()
}

func (c *cancellingSession) Release(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
	return true, nil
}

func newTestDB(t *testing.T, name string) database.Database {
	t.Helper()

	db, err := database.NewDatabase(&database.Config{
		Driver:      database.DriverSQLite,
		DSN:         "file:" + name + "?mode=memory&cache=shared",
		AutoMigrate: true,
		LogLevel:    "silent",
		Pool: database.PoolConfig{
			MaxOpen: 10,
			MaxIdle: 10,
		},
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.AutoMigrate(&counterRow{}))
	require.NoError(t, db.GORM().Create(&counterRow{ID: 1, Count: 0}).Error)

	return db
}

func newTestCoordinator(t *testing.T, db database.Database, session SessionLocker) *Coordinator {
	t.Helper()

	policy := NewKeyPolicy(map[string]time.Duration{
		"test": 2 * time.Second,
	})

	coord, err := NewCoordinator(db, session, policy)
	require.NoError(t, err)
	return coord
}

func TestNewCoordinator(t *testing.T) {
	db := newTestDB(t, "coord_new")
	policy := NewKeyPolicy(nil)

	tests := []struct {
		name    string
		db      database.Database
		session SessionLocker
		policy  *KeyPolicy
		wantErr error
	}{
		{"nil database", nil, NewMemorySession(), policy, ErrNilDatabase},
		{"nil session", db, nil, policy, ErrNilSessionLocker},
		{"nil policy", db, NewMemorySession(), nil, ErrNilKeyPolicy},
		{"valid", db, NewMemorySession(), policy, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoordinator(tt.db, tt.session, tt.policy)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestWithExclusive(t *testing.T) {
	ctx := context.Background()
	target := Target{Type: "counter", ID: 1, Kind: "test"}

	t.Run("commit on success", func(t *testing.T) {
		db := newTestDB(t, "coord_commit")
		coord := newTestCoordinator(t, db, NewMemorySession())

		err := coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			return tx.Model(&counterRow{ID: 1}).Update("count", 7).Error
		})
		require.NoError(t, err)

		var row counterRow
		require.NoError(t, db.GORM().First(&row, 1).Error)
		require.Equal(t, 7, row.Count)
	})

	t.Run("rollback on unit of work error", func(t *testing.T) {
		db := newTestDB(t, "coord_rollback")
		coord := newTestCoordinator(t, db, NewMemorySession())

		boom := errors.New("boom")
		err := coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			if uerr := tx.Model(&counterRow{ID: 1}).Update("count", 99).Error; uerr != nil {
				return uerr
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		var row counterRow
		require.NoError(t, db.GORM().First(&row, 1).Error)
		require.Equal(t, 0, row.Count, "事务应已回滚")
	})

	t.Run("timeout without invoking unit of work", func(t *testing.T) {
		db := newTestDB(t, "coord_timeout")
		session := NewMemorySession()
		coord := newTestCoordinator(t, db, session)

		policy := NewKeyPolicy(map[string]time.Duration{"test": 30 * time.Millisecond})
		short, err := NewCoordinator(db, session, policy)
		require.NoError(t, err)

		// 预先占住同一把锁
		key, _ := policy.KeyFor(target)
		held, err := session.TryAcquire(ctx, nil, key, time.Second)
		require.NoError(t, err)
		require.True(t, held)
		defer session.Release(ctx, nil, key)

		invoked := false
		err = short.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			invoked = true
			return nil
		})
		require.ErrorIs(t, err, ErrLockTimeout)
		require.False(t, invoked, "超时后不得调用工作单元")

		_ = coord
	})

	t.Run("release exactly once per acquire", func(t *testing.T) {
		db := newTestDB(t, "coord_release")
		session := &countingSession{inner: NewMemorySession()}
		coord := newTestCoordinator(t, db, session)

		// 成功路径
		require.NoError(t, coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			return nil
		}))

		// 失败路径
		boom := errors.New("boom")
		require.ErrorIs(t, coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			return boom
		}), boom)

		require.EqualValues(t, 2, session.acquires.Load())
		require.EqualValues(t, 2, session.releases.Load())
	})

	t.Run("no connection leak", func(t *testing.T) {
		db := newTestDB(t, "coord_leak")
		coord := newTestCoordinator(t, db, NewMemorySession())

		sqlDB, err := db.SQLDB()
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			fail := i%2 == 0
			err := coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
				if fail {
					return errors.New("boom")
				}
				return nil
			})
			if fail {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		}

		require.Zero(t, sqlDB.Stats().InUse, "所有连接应已归还")
	})

	t.Run("transient acquire failure retried", func(t *testing.T) {
		db := newTestDB(t, "coord_flaky")
		session := &flakySession{inner: NewMemorySession(), failN: 2}
		coord := newTestCoordinator(t, db, session)

		err := coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			return nil
		})
		require.NoError(t, err, "两次瞬时故障应在重试预算内恢复")
	})

	t.Run("retries exhausted", func(t *testing.T) {
		db := newTestDB(t, "coord_exhausted")
		session := &flakySession{inner: NewMemorySession(), failN: 100}
		coord := newTestCoordinator(t, db, session)

		err := coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			return nil
		})
		require.ErrorIs(t, err, ErrLockInfrastructure)
	})

	t.Run("caller cancellation passes through", func(t *testing.T) {
		db := newTestDB(t, "coord_cancelled")
		coord := newTestCoordinator(t, db, NewMemorySession())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := coord.WithExclusive(cancelled, target, func(tx *gorm.DB) error {
			t.Error("不应调用工作单元")
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, ErrLockInfrastructure, "调用方取消不是基础设施故障")
	})

	t.Run("cancellation during acquire passes through", func(t *testing.T) {
		db := newTestDB(t, "coord_cancel_acquire")

		acquireCtx, cancel := context.WithCancel(ctx)
		session := &cancellingSession{cancel: cancel}
		coord := newTestCoordinator(t, db, session)

		err := coord.WithExclusive(acquireCtx, target, func(tx *gorm.DB) error {
			t.Error("不应调用工作单元")
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, ErrLockInfrastructure)
	})

	t.Run("serializes concurrent mutations", func(t *testing.T) {
		db := newTestDB(t, "coord_serial")
		coord := newTestCoordinator(t, db, NewMemorySession())

		const goroutines = 8

		var wg sync.WaitGroup
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				err := coord.WithExclusive(ctx, target, func(tx *gorm.DB) error {
					var row counterRow
					if ferr := tx.First(&row, 1).Error; ferr != nil {
						return ferr
					}
					return tx.Model(&counterRow{ID: 1}).Update("count", row.Count+1).Error
				})
				if err != nil {
					t.Errorf("不期望错误: %v", err)
				}
			}()
		}
		wg.Wait()

		var row counterRow
		require.NoError(t, db.GORM().First(&row, 1).Error)
		require.Equal(t, goroutines, row.Count, "读改写在锁内应无丢失更新")
	})
}
