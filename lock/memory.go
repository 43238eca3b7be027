package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// MemorySession 进程内会话锁实现.
//
// 与 MySQLSession / PostgresSession 同契约，但锁存活在本进程内，
// 适用于测试和单实例部署（sqlite 等无命名锁能力的后端）.
// 连接参数被忽略：进程内没有会话概念.
type MemorySession struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemorySession 创建进程内会话锁.
func NewMemorySession() *MemorySession {
	return &MemorySession{
		slots: make(map[string]chan struct{}),
	}
}

// slot 返回 key 对应的容量 1 的信号槽.
func (m *MemorySession) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[key] = s
	}
	return s
}

// TryAcquire 获取锁，最多阻塞 timeout.
func (m *MemorySession) TryAcquire(ctx context.Context, _ *sql.Conn, key string, timeout time.Duration) (bool, error) {
	s := m.slot(key)

	select {
	case s <- struct{}{}:
		return true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Release 释放锁.
func (m *MemorySession) Release(_ context.Context, _ *sql.Conn, key string) (bool, error) {
	s := m.slot(key)

	select {
	case <-s:
		return true, nil
	default:
		// 未持有，容错返回 false
		return false, nil
	}
}
