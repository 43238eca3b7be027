package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MySQLSession MySQL 命名锁实现.
//
// 基于 GET_LOCK / RELEASE_LOCK，锁作用域是获取它的那个会话：
// 两条语句必须跑在同一条连接上，连接断开时锁自动释放.
type MySQLSession struct{}

// NewMySQLSession 创建 MySQL 会话锁.
func NewMySQLSession() *MySQLSession {
	return &MySQLSession{}
}

// lockWaitSeconds 换算 GET_LOCK 的等待秒数.
//
// GET_LOCK 只有整秒粒度，亚秒超时向上取整到 1 秒，
// 否则会退化为 0 秒的立即尝试.
func lockWaitSeconds(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	return int((timeout + time.Second - 1) / time.Second)
}

// TryAcquire 获取命名锁，最多阻塞 timeout.
//
// GET_LOCK 返回 1 表示获取成功，0 表示等待超时，NULL 表示发生错误.
func (m *MySQLSession) TryAcquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	seconds := lockWaitSeconds(timeout)

	var result sql.NullInt64
	err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, seconds).Scan(&result)
	if err != nil {
		return false, fmt.Errorf("GET_LOCK 执行失败: %w", err)
	}
	if !result.Valid {
		return false, fmt.Errorf("GET_LOCK 返回 NULL: key=%s", key)
	}

	return result.Int64 == 1, nil
}

// Release 释放命名锁.
//
// RELEASE_LOCK 返回 1 表示释放成功，0 表示锁被其他会话持有，
// NULL 表示锁不存在.
func (m *MySQLSession) Release(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
	var result sql.NullInt64
	err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", key).Scan(&result)
	if err != nil {
		return false, fmt.Errorf("RELEASE_LOCK 执行失败: %w", err)
	}

	return result.Valid && result.Int64 == 1, nil
}
