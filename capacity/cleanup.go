package capacity

import (
	"context"

	"gorm.io/gorm"

	"github.com/Tsukikage7/gather/logger"
	"github.com/Tsukikage7/gather/media"
)

// CleanupPolicy 自动清理策略.
//
// 退出后人数降至阈值及以下时资源被解散：转入 closed、软删除资源行、
// 移除剩余参与记录. 关联媒体的清理是尽力而为的副作用，
// 失败只记日志，绝不影响退出操作本身的结果.
type CleanupPolicy struct {
	repo      Repository
	threshold int
	media     media.Cleaner
	log       logger.Logger
}

// CleanupOption CleanupPolicy 配置选项.
type CleanupOption func(*CleanupPolicy)

// WithThreshold 设置解散阈值.
func WithThreshold(n int) CleanupOption {
	return func(c *CleanupPolicy) {
		c.threshold = n
	}
}

// WithMediaCleaner 设置媒体清理器.
func WithMediaCleaner(cleaner media.Cleaner) CleanupOption {
	return func(c *CleanupPolicy) {
		c.media = cleaner
	}
}

// WithCleanupLogger 设置日志记录器.
func WithCleanupLogger(log logger.Logger) CleanupOption {
	return func(c *CleanupPolicy) {
		c.log = log
	}
}

// NewCleanupPolicy 创建自动清理策略.
func NewCleanupPolicy(repo Repository, opts ...CleanupOption) *CleanupPolicy {
	c := &CleanupPolicy{
		repo:      repo,
		threshold: DefaultCleanupThreshold,
		media:     media.Noop(),
		log:       logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Threshold 返回解散阈值.
func (c *CleanupPolicy) Threshold() int {
	return c.threshold
}

// ShouldCleanup 判断一次退出后是否触发解散.
func (c *CleanupPolicy) ShouldCleanup(r *Resource) bool {
	return r.CurrentCount <= c.threshold
}

// Apply 在持锁事务内执行解散的数据库部分.
//
// 资源转入终态并软删除，剩余参与记录一并移除；
// 这些修改随退出事务一起提交或回滚.
func (c *CleanupPolicy) Apply(tx *gorm.DB, r *Resource) error {
	r.Close()

	if err := c.repo.Save(tx, r); err != nil {
		return err
	}
	if err := c.repo.RemoveAllParticipations(tx, r.ID); err != nil {
		return err
	}
	return c.repo.SoftDelete(tx, r)
}

// CleanupMedia 清理资源的关联媒体. 事务提交后调用，尽力而为.
func (c *CleanupPolicy) CleanupMedia(ctx context.Context, resourceID uint64) {
	if err := c.media.RemoveAll(ctx, resourceID); err != nil {
		c.log.With(
			logger.F("resource_id", resourceID),
			logger.F("error", err),
		).Warn("媒体清理失败，留待后台补偿")
	}
}
