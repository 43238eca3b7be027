package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tsukikage7/gather/database"
	"github.com/Tsukikage7/gather/logger"
	"github.com/Tsukikage7/gather/metrics"
	"github.com/Tsukikage7/gather/retry"
)

// 加锁瞬时故障的默认重试参数.
const (
	DefaultAcquireAttempts = 3
	DefaultAcquireDelay    = 100 * time.Millisecond
)

// Coordinator 会话级锁协调器.
//
// 一次 WithExclusive 的完整流程：
//
//  1. 从连接池固定一条物理连接，整个调用期间不被换出；
//  2. 在该连接上（自动提交模式，不包在业务事务内）获取命名锁；
//  3. 获取成功后在同一条连接上开启业务事务执行工作单元；
//  4. 无论工作单元如何退出，释放锁并归还连接——每次成功加锁
//     恰好对应一次释放尝试，连接获取与归还在所有路径上一一配对.
//
// 普通的事务框架会从池里随意取连接，悄悄破坏"加锁与解锁同连接"
// 的前提，所以这里绕开框架显式固定连接.
type Coordinator struct {
	db      database.Database
	session SessionLocker
	policy  *KeyPolicy

	log             logger.Logger
	collector       *metrics.Collector
	acquireAttempts int
	acquireDelay    time.Duration
}

// CoordinatorOption Coordinator 配置选项.
type CoordinatorOption func(*Coordinator)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithCollector 设置指标收集器.
func WithCollector(collector *metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) {
		c.collector = collector
	}
}

// WithAcquireRetry 设置加锁瞬时故障的重试参数.
//
// 只覆盖基础设施故障（连接抖动等）；等待超时本身不重试，
// 直接以 ErrLockTimeout 返回调用方.
func WithAcquireRetry(attempts int, delay time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.acquireAttempts = attempts
		c.acquireDelay = delay
	}
}

// NewCoordinator 创建会话级锁协调器.
func NewCoordinator(db database.Database, session SessionLocker, policy *KeyPolicy, opts ...CoordinatorOption) (*Coordinator, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	if session == nil {
		return nil, ErrNilSessionLocker
	}
	if policy == nil {
		return nil, ErrNilKeyPolicy
	}

	c := &Coordinator{
		db:              db,
		session:         session,
		policy:          policy,
		log:             logger.Nop(),
		acquireAttempts: DefaultAcquireAttempts,
		acquireDelay:    DefaultAcquireDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithExclusive 持有目标资源的会话锁执行工作单元.
func (c *Coordinator) WithExclusive(ctx context.Context, target Target, fn UnitOfWork) error {
	key, timeout := c.policy.KeyFor(target)

	sqlDB, err := c.db.SQLDB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockInfrastructure, err)
	}

	// 固定连接：加锁、业务事务、解锁都发生在这条连接上
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		if isCallerCancel(err) {
			return err
		}
		c.incInfraError(target)
		return fmt.Errorf("%w: 获取连接失败: %v", ErrLockInfrastructure, err)
	}
	defer conn.Close() // 归还连接，所有路径恰好一次

	acquired, err := c.acquire(ctx, conn, key, timeout, target)
	if err != nil {
		return err
	}
	if !acquired {
		c.incTimeout(target)
		return fmt.Errorf("%w: key=%s timeout=%s", ErrLockTimeout, key, timeout)
	}

	// 每次成功加锁恰好一次释放尝试；失败只记日志，绝不掩盖工作单元的结果
	defer c.release(ctx, conn, key, target)

	gdb, err := c.gormForConn(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockInfrastructure, err)
	}

	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

// acquire 获取命名锁，瞬时故障在重试预算内自动重试.
func (c *Coordinator) acquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration, target Target) (bool, error) {
	var acquired bool
	start := time.Now()

	err := retry.Do(ctx, func() error {
		ok, aerr := c.session.TryAcquire(ctx, conn, key, timeout)
		if aerr != nil {
			return aerr
		}
		acquired = ok
		return nil
	}).WithMaxAttempts(c.acquireAttempts).WithDelay(c.acquireDelay).Run()

	wait := time.Since(start)
	if c.collector != nil {
		c.collector.ObserveLockWait(target.Type, wait)
	}

	if err != nil {
		// 调用方自己的取消原样透传，不算基础设施故障
		if isCallerCancel(err) {
			return false, err
		}
		c.incInfraError(target)
		c.log.With(
			logger.F("key", key),
			logger.F("error", err),
		).Error("锁获取故障，重试预算已耗尽")
		return false, fmt.Errorf("%w: %v", ErrLockInfrastructure, err)
	}

	if acquired && c.collector != nil {
		c.collector.IncLockAcquired(target.Type)
	}

	return acquired, nil
}

// release 释放命名锁. 失败记日志并吞掉——解锁失败不得阻止连接归还，
// 也不得改变工作单元的返回结果（会话断开时锁最终会被后端回收）.
func (c *Coordinator) release(ctx context.Context, conn *sql.Conn, key string, target Target) {
	// 调用方的 ctx 可能已取消，解锁用不可取消的派生 ctx
	released, err := c.session.Release(context.WithoutCancel(ctx), conn, key)
	if err != nil || !released {
		if c.collector != nil {
			c.collector.IncLockReleaseFailure(target.Type)
		}
		c.log.With(
			logger.F("key", key),
			logger.F("released", released),
			logger.F("error", err),
		).Warn("锁释放失败，等待会话回收")
	}
}

// gormForConn 返回绑定在固定连接上的 gorm 实例.
//
// 业务事务必须跑在持锁连接上，普通的 gorm 实例会从池里另取连接.
func (c *Coordinator) gormForConn(conn *sql.Conn) (*gorm.DB, error) {
	dialector, err := database.DialectorForConn(c.db.Driver(), conn)
	if err != nil {
		return nil, err
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: c.db.GORM().Logger,
	})
}

// isCallerCancel 判断错误是否源于调用方的上下文取消或超时.
func isCallerCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) incTimeout(target Target) {
	if c.collector != nil {
		c.collector.IncLockTimeout(target.Type)
	}
	c.log.With(logger.F("target", target.String())).Warn("锁等待超时")
}

func (c *Coordinator) incInfraError(target Target) {
	if c.collector != nil {
		c.collector.IncLockInfraError(target.Type)
	}
}
