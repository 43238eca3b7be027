package capacity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tsukikage7/gather/logger"
)

// 快照缓存默认参数.
const (
	// DefaultSnapshotTTL 快照默认过期时间.
	DefaultSnapshotTTL = 5 * time.Minute

	// DefaultSnapshotPrefix 快照键前缀.
	DefaultSnapshotPrefix = "gather:snapshot:"
)

// Snapshot 资源状态的只读快照.
//
// 缓存值是持锁事务提交后的结果，可能短暂落后于数据库，
// 但从不领先. 读路径优先走快照，未命中再回源.
type Snapshot struct {
	ResourceID   uint64     `json:"resource_id"`
	Type         string     `json:"type"`
	Capacity     int        `json:"capacity"`
	CurrentCount int        `json:"current_count"`
	Status       Status     `json:"status"`
	OwnerID      uint64     `json:"owner_id"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	RefreshedAt  time.Time  `json:"refreshed_at"`
}

// SnapshotStore 快照缓存.
type SnapshotStore interface {
	// Get 读取快照. 未命中时返回 (nil, nil).
	Get(ctx context.Context, resourceID uint64) (*Snapshot, error)

	// Put 写入快照.
	Put(ctx context.Context, snapshot *Snapshot) error

	// Invalidate 删除快照.
	Invalidate(ctx context.Context, resourceID uint64) error
}

// SnapshotOf 从资源构造快照.
func SnapshotOf(r *Resource, now time.Time) *Snapshot {
	return &Snapshot{
		ResourceID:   r.ID,
		Type:         r.Type,
		Capacity:     r.Capacity,
		CurrentCount: r.CurrentCount,
		Status:       r.Status,
		OwnerID:      r.OwnerID,
		StartsAt:     r.StartsAt,
		RefreshedAt:  now,
	}
}

// redisSnapshotStore 基于 Redis 的快照缓存.
type redisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
}

// SnapshotOption 快照缓存选项.
type SnapshotOption func(*redisSnapshotStore)

// WithSnapshotTTL 设置过期时间.
func WithSnapshotTTL(ttl time.Duration) SnapshotOption {
	return func(s *redisSnapshotStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSnapshotPrefix 设置键前缀.
func WithSnapshotPrefix(prefix string) SnapshotOption {
	return func(s *redisSnapshotStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithSnapshotLogger 设置日志器.
func WithSnapshotLogger(log logger.Logger) SnapshotOption {
	return func(s *redisSnapshotStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewRedisSnapshotStore 创建 Redis 快照缓存.
func NewRedisSnapshotStore(client *redis.Client, opts ...SnapshotOption) (SnapshotStore, error) {
	if client == nil {
		return nil, ErrNilRedisClient
	}

	s := &redisSnapshotStore{
		client: client,
		prefix: DefaultSnapshotPrefix,
		ttl:    DefaultSnapshotTTL,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *redisSnapshotStore) key(resourceID uint64) string {
	return fmt.Sprintf("%s%d", s.prefix, resourceID)
}

// Get 读取快照.
func (s *redisSnapshotStore) Get(ctx context.Context, resourceID uint64) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(resourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// 损坏的快照当作未命中处理，下次写入覆盖
		s.log.With(
			logger.F("resource_id", resourceID),
			logger.F("error", err.Error()),
		).Warn("快照反序列化失败")
		return nil, nil
	}

	return &snapshot, nil
}

// Put 写入快照.
func (s *redisSnapshotStore) Put(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("快照序列化失败: %w", err)
	}

	if err := s.client.Set(ctx, s.key(snapshot.ResourceID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("写入快照失败: %w", err)
	}
	return nil
}

// Invalidate 删除快照.
func (s *redisSnapshotStore) Invalidate(ctx context.Context, resourceID uint64) error {
	if err := s.client.Del(ctx, s.key(resourceID)).Err(); err != nil {
		return fmt.Errorf("删除快照失败: %w", err)
	}
	return nil
}

// memorySnapshotStore 进程内快照缓存，用于测试和单机部署.
type memorySnapshotStore struct {
	entries map[uint64]*Snapshot
	mu      sync.RWMutex
}

// NewMemorySnapshotStore 创建进程内快照缓存.
func NewMemorySnapshotStore() SnapshotStore {
	return &memorySnapshotStore{entries: make(map[uint64]*Snapshot)}
}

func (s *memorySnapshotStore) Get(ctx context.Context, resourceID uint64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.entries[resourceID]
	if !ok {
		return nil, nil
	}
	clone := *snapshot
	return &clone, nil
}

func (s *memorySnapshotStore) Put(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *snapshot
	s.entries[snapshot.ResourceID] = &clone
	return nil
}

func (s *memorySnapshotStore) Invalidate(ctx context.Context, resourceID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, resourceID)
	return nil
}
