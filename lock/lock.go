// Package lock 提供按资源串行化并发操作的互斥机制.
//
// 容量受限的资源（小组、聚会）在高并发加入/退出时必须逐资源串行修改，
// 否则会超卖名额。本包提供两种后端：
//
// 会话级锁（Coordinator）：
//
//	coord, _ := lock.NewCoordinator(db, lock.NewMySQLSession(), policy)
//	err := coord.WithExclusive(ctx, lock.Target{Type: "meeting", ID: 42, Kind: "meeting_flash"},
//	    func(tx *gorm.DB) error {
//	        // 持锁状态下的业务事务
//	        return nil
//	    })
//
// 行级锁（RowLock）：
//
//	rl := lock.NewRowLock(db, map[string]string{"group": "resources"})
//	err := rl.WithExclusive(ctx, target, fn)
//
// 两种后端对外契约一致：同一资源同时最多一个修改操作在执行，
// 竞争失败返回 ErrLockTimeout，调用方可稍后重试.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Target 标识一次互斥操作的目标资源.
type Target struct {
	// Type 资源类型，参与锁键派生（如 "group", "meeting"）
	Type string

	// ID 资源 ID
	ID uint64

	// Kind 细分种类，决定锁等待超时（如 "meeting_flash" 竞争激烈，超时更长）
	Kind string
}

func (t Target) String() string {
	return fmt.Sprintf("%s::%d", t.Type, t.ID)
}

// UnitOfWork 持锁状态下执行的业务事务.
//
// tx 绑定在持锁的那条连接上，提交或回滚均不影响锁本身.
type UnitOfWork func(tx *gorm.DB) error

// Locker 按资源互斥执行工作单元.
//
// 实现必须保证：同一 Target 的 fn 串行执行；fn 返回 nil 则事务提交，
// 返回错误则回滚并原样传出；竞争超时返回 ErrLockTimeout 且 fn 不被调用.
type Locker interface {
	WithExclusive(ctx context.Context, target Target, fn UnitOfWork) error
}

// SessionLocker 会话级锁原语.
//
// 加锁与解锁必须发生在传入的同一条物理连接上——锁的作用域是
// 数据库会话而不是行或调用方 goroutine.
type SessionLocker interface {
	// TryAcquire 在 conn 上获取命名锁，最多阻塞 timeout.
	// 超时返回 (false, nil)，不是错误.
	TryAcquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error)

	// Release 在 conn 上释放命名锁.
	// 返回是否实际释放；失败与否都不得阻止连接归还.
	Release(ctx context.Context, conn *sql.Conn, key string) (bool, error)
}
