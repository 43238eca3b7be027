package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"
)

// 轮询间隔：pg_try_advisory_lock 非阻塞，按固定间隔重试直到超时.
const pgPollInterval = 100 * time.Millisecond

// PostgresSession PostgreSQL 会话级咨询锁实现.
//
// pg_advisory_lock 以 bigint 为键，这里用 FNV-1a 把字符串键哈希成 int64.
// 锁作用域同样是会话，连接断开时自动释放.
type PostgresSession struct{}

// NewPostgresSession 创建 PostgreSQL 会话锁.
func NewPostgresSession() *PostgresSession {
	return &PostgresSession{}
}

// TryAcquire 获取咨询锁，最多阻塞 timeout.
//
// pg_advisory_lock 本身没有超时参数，这里以固定间隔轮询
// pg_try_advisory_lock 直到成功或超时.
func (p *PostgresSession) TryAcquire(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	id := hashKey(key)
	deadline := time.Now().Add(timeout)

	for {
		var acquired bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired)
		if err != nil {
			return false, fmt.Errorf("pg_try_advisory_lock 执行失败: %w", err)
		}
		if acquired {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pgPollInterval):
		}
	}
}

// Release 释放咨询锁.
func (p *PostgresSession) Release(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
	var released bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", hashKey(key)).Scan(&released)
	if err != nil {
		return false, fmt.Errorf("pg_advisory_unlock 执行失败: %w", err)
	}

	return released, nil
}

// hashKey 把字符串锁键映射到 pg 咨询锁的 bigint 键空间.
func hashKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}
