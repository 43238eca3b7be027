package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tsukikage7/gather/database"
	"github.com/Tsukikage7/gather/lock"
	"github.com/Tsukikage7/gather/logger"
	"github.com/Tsukikage7/gather/metrics"
	"github.com/Tsukikage7/gather/notify"
	"github.com/Tsukikage7/gather/worker"
)

// Service 容量管理用例层.
//
// 所有写操作（加入/退出/移交/关闭）都在 lock.Locker 的临界区内
// 重新读取并校验资源状态——锁外看到的任何容量信息都只能用于
// 预检和展示，不能作为准入依据.
type Service struct {
	db        database.Database
	locker    lock.Locker
	repo      Repository
	cleanup   *CleanupPolicy
	snapshots SnapshotStore
	notifier  notify.Notifier
	pool      *worker.Pool
	collector *metrics.Collector
	log       logger.Logger
	clock     Clock
}

// ServiceOption 服务配置选项.
type ServiceOption func(*Service)

// WithSnapshotStore 设置快照缓存.
func WithSnapshotStore(store SnapshotStore) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.snapshots = store
		}
	}
}

// WithNotifier 设置事件通知器.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithWorkerPool 设置旁路任务工作池.
//
// 快照刷新、事件发布、媒体清理走池；池满时降级为同步执行.
func WithWorkerPool(p *worker.Pool) ServiceOption {
	return func(s *Service) { s.pool = p }
}

// WithCollector 设置指标收集器.
func WithCollector(c *metrics.Collector) ServiceOption {
	return func(s *Service) { s.collector = c }
}

// WithCleanupPolicy 设置清理策略.
func WithCleanupPolicy(p *CleanupPolicy) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.cleanup = p
		}
	}
}

// WithServiceLogger 设置日志器.
func WithServiceLogger(log logger.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceClock 设置时间源.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService 创建容量服务.
func NewService(db database.Database, locker lock.Locker, repo Repository, opts ...ServiceOption) (*Service, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	if locker == nil {
		return nil, ErrNilLocker
	}
	if repo == nil {
		return nil, ErrNilRepository
	}

	s := &Service{
		db:        db,
		locker:    locker,
		repo:      repo,
		snapshots: NewMemorySnapshotStore(),
		notifier:  notify.Noop(),
		log:       logger.Nop(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cleanup == nil {
		s.cleanup = NewCleanupPolicy(repo, WithCleanupLogger(s.log))
	}

	return s, nil
}

// Join 参与者加入资源.
//
// 返回提交后的资源快照. 竞争超时返回 lock.ErrLockTimeout，
// 调用方可提示稍后重试；业务拒绝返回对应的领域错误.
func (s *Service) Join(ctx context.Context, target lock.Target, participantID uint64) (*Snapshot, error) {
	if err := s.precheckJoin(ctx, target, participantID); err != nil {
		s.recordAdmission("join", err)
		return nil, err
	}

	var result *Snapshot

	err := s.locker.WithExclusive(ctx, target, func(tx *gorm.DB) error {
		now := s.clock()

		r, err := s.repo.Load(tx, target.ID)
		if err != nil {
			return err
		}
		if err := s.checkCountConsistency(tx, r); err != nil {
			return err
		}

		existing, err := s.repo.GetParticipation(tx, target.ID, participantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: resource=%d participant=%d", ErrAlreadyJoined, target.ID, participantID)
		}

		if err := r.Join(now); err != nil {
			return err
		}
		if err := s.repo.Save(tx, r); err != nil {
			return err
		}
		if err := s.repo.UpsertParticipation(tx, &Participation{
			ResourceID:    target.ID,
			ParticipantID: participantID,
			Role:          RoleMember,
			JoinedAt:      now,
		}); err != nil {
			return err
		}

		result = SnapshotOf(r, now)
		return nil
	})

	s.recordAdmission("join", err)
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, target, result, notify.NewEvent(notify.EventJoined, target.ID, participantID))
	return result, nil
}

// Leave 参与者退出资源.
//
// 负责人退出前必须先移交身份，除非这次退出会让人数降到
// 清理阈值及以下——那会触发整个资源的解散，无需移交.
func (s *Service) Leave(ctx context.Context, target lock.Target, participantID uint64) (*Snapshot, error) {
	if err := s.precheckLeave(ctx, target, participantID); err != nil {
		s.recordAdmission("leave", err)
		return nil, err
	}

	var (
		result  *Snapshot
		cleaned bool
	)

	err := s.locker.WithExclusive(ctx, target, func(tx *gorm.DB) error {
		now := s.clock()

		r, err := s.repo.Load(tx, target.ID)
		if err != nil {
			return err
		}

		p, err := s.repo.GetParticipation(tx, target.ID, participantID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: resource=%d participant=%d", ErrNotMember, target.ID, participantID)
		}

		willCleanup := r.CurrentCount-1 <= s.cleanup.Threshold()
		if p.IsOwner() && !willCleanup {
			return fmt.Errorf("%w: resource=%d", ErrOwnerTransferRequired, target.ID)
		}

		if err := r.Leave(now, s.cleanup.Threshold()); err != nil {
			return err
		}

		if s.cleanup.ShouldCleanup(r) {
			cleaned = true
			if err := s.cleanup.Apply(tx, r); err != nil {
				return err
			}
		} else {
			if err := s.repo.Save(tx, r); err != nil {
				return err
			}
			if err := s.repo.RemoveParticipation(tx, target.ID, participantID); err != nil {
				return err
			}
		}

		result = SnapshotOf(r, now)
		return nil
	})

	s.recordAdmission("leave", err)
	if err != nil {
		return nil, err
	}

	if cleaned {
		s.afterCleanup(ctx, target, notify.NewEvent(notify.EventResourceClosed, target.ID, participantID))
	} else {
		s.afterCommit(ctx, target, result, notify.NewEvent(notify.EventLeft, target.ID, participantID))
	}
	return result, nil
}

// TransferOwner 移交负责人身份.
//
// 新负责人必须已经是成员. 移交与成员变动共用同一把资源锁，
// 不会与并发的退出交错出无主资源.
func (s *Service) TransferOwner(ctx context.Context, target lock.Target, fromID, toID uint64) error {
	err := s.locker.WithExclusive(ctx, target, func(tx *gorm.DB) error {
		r, err := s.repo.Load(tx, target.ID)
		if err != nil {
			return err
		}
		if r.Closed() {
			return fmt.Errorf("%w: id=%d", ErrResourceClosed, r.ID)
		}

		from, err := s.repo.GetParticipation(tx, target.ID, fromID)
		if err != nil {
			return err
		}
		if from == nil || !from.IsOwner() {
			return fmt.Errorf("%w: resource=%d participant=%d", ErrNotOwner, target.ID, fromID)
		}

		to, err := s.repo.GetParticipation(tx, target.ID, toID)
		if err != nil {
			return err
		}
		if to == nil {
			return fmt.Errorf("%w: resource=%d participant=%d", ErrNotMember, target.ID, toID)
		}

		if err := s.repo.UpdateRole(tx, target.ID, fromID, RoleMember); err != nil {
			return err
		}
		if err := s.repo.UpdateRole(tx, target.ID, toID, RoleOwner); err != nil {
			return err
		}

		r.OwnerID = toID
		return s.repo.Save(tx, r)
	})

	s.recordAdmission("transfer_owner", err)
	if err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, target.ID)
	s.publish(ctx, notify.NewEvent(notify.EventOwnerTransferred, target.ID, toID))
	return nil
}

// CloseStarted 关闭所有已过开始时间的资源. 供调度器周期调用.
//
// 候选列表在锁外扫描，逐个进临界区重新校验后关闭，
// 已被并发解散的资源直接跳过.
func (s *Service) CloseStarted(ctx context.Context) (int, error) {
	now := s.clock()

	var candidates []Resource
	if err := s.db.GORM().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		candidates, err = s.repo.ListStartedActive(tx, now)
		return err
	}); err != nil {
		return 0, fmt.Errorf("扫描待关闭资源失败: %w", err)
	}

	closed := 0
	for i := range candidates {
		c := &candidates[i]
		target := lock.Target{Type: c.Type, ID: c.ID, Kind: c.Kind}

		err := s.locker.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			r, err := s.repo.Load(tx, c.ID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if r.Closed() || !r.Started(s.clock()) {
				return nil
			}

			r.Close()
			if err := s.repo.Save(tx, r); err != nil {
				return err
			}
			closed++
			return nil
		})
		if err != nil {
			// 单个资源失败不中断整轮扫描
			s.log.With(
				logger.F("resource_id", c.ID),
				logger.F("error", err.Error()),
			).Warn("关闭已开始资源失败")
			continue
		}

		s.invalidateSnapshot(ctx, c.ID)
		s.publish(ctx, notify.NewEvent(notify.EventResourceClosed, c.ID, 0))
	}

	if closed > 0 {
		s.log.With(logger.F("count", closed)).Info("已关闭过期资源")
	}
	return closed, nil
}

// Snapshot 读取资源的展示快照.
//
// 命中缓存直接返回，未命中回源数据库并回填.
// 结果是最终一致的，不能用于准入判断.
func (s *Service) Snapshot(ctx context.Context, resourceID uint64) (*Snapshot, error) {
	if cached, err := s.snapshots.Get(ctx, resourceID); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		s.log.With(
			logger.F("resource_id", resourceID),
			logger.F("error", err.Error()),
		).Warn("读取快照缓存失败")
	}

	var snapshot *Snapshot
	err := s.db.GORM().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.repo.Load(tx, resourceID)
		if err != nil {
			return err
		}
		snapshot = SnapshotOf(r, s.clock())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, func(ctx context.Context) error {
		if err := s.snapshots.Put(ctx, snapshot); err != nil {
			s.log.With(logger.F("resource_id", resourceID), logger.F("error", err.Error())).Warn("回填快照失败")
		}
		return nil
	})
	return snapshot, nil
}

// precheckJoin 锁外预检加入请求.
//
// 注定失败的请求（资源不存在、重复加入）不进临界区，
// 不放大资源锁上的竞争；进锁后仍会重新校验.
func (s *Service) precheckJoin(ctx context.Context, target lock.Target, participantID uint64) error {
	db := s.db.GORM().WithContext(ctx)

	if _, err := s.repo.Load(db, target.ID); err != nil {
		return err
	}

	existing, err := s.repo.GetParticipation(db, target.ID, participantID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: resource=%d participant=%d", ErrAlreadyJoined, target.ID, participantID)
	}
	return nil
}

// precheckLeave 锁外预检退出请求，非成员直接拒绝.
func (s *Service) precheckLeave(ctx context.Context, target lock.Target, participantID uint64) error {
	db := s.db.GORM().WithContext(ctx)

	if _, err := s.repo.Load(db, target.ID); err != nil {
		return err
	}

	p, err := s.repo.GetParticipation(db, target.ID, participantID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: resource=%d participant=%d", ErrNotMember, target.ID, participantID)
	}
	return nil
}

// checkCountConsistency 持锁下交叉校验冗余计数与参与记录一致.
//
// 不一致说明有写入绕过了资源锁，拒绝准入比放大错账更安全.
func (s *Service) checkCountConsistency(tx *gorm.DB, r *Resource) error {
	active, err := s.repo.CountActiveParticipants(tx, r.ID)
	if err != nil {
		return err
	}
	if active != r.CurrentCount {
		return fmt.Errorf("%w: resource=%d current_count=%d participants=%d",
			ErrInvariantViolated, r.ID, r.CurrentCount, active)
	}
	return nil
}

// afterCommit 提交后旁路：刷新快照并发布事件.
func (s *Service) afterCommit(ctx context.Context, target lock.Target, snapshot *Snapshot, event notify.Event) {
	s.dispatch(ctx, func(ctx context.Context) error {
		if err := s.snapshots.Put(ctx, snapshot); err != nil {
			s.log.With(logger.F("resource_id", target.ID), logger.F("error", err.Error())).Warn("刷新快照失败")
		}
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.log.With(logger.F("event", string(event.Type)), logger.F("error", err.Error())).Warn("发布事件失败")
		}
		return nil
	})
}

// afterCleanup 解散后旁路：清快照、发事件、清媒体.
func (s *Service) afterCleanup(ctx context.Context, target lock.Target, event notify.Event) {
	s.dispatch(ctx, func(ctx context.Context) error {
		if err := s.snapshots.Invalidate(ctx, target.ID); err != nil {
			s.log.With(logger.F("resource_id", target.ID), logger.F("error", err.Error())).Warn("清除快照失败")
		}
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.log.With(logger.F("event", string(event.Type)), logger.F("error", err.Error())).Warn("发布事件失败")
		}
		s.cleanup.CleanupMedia(ctx, target.ID)
		return nil
	})
}

func (s *Service) invalidateSnapshot(ctx context.Context, resourceID uint64) {
	s.dispatch(ctx, func(ctx context.Context) error {
		if err := s.snapshots.Invalidate(ctx, resourceID); err != nil {
			s.log.With(logger.F("resource_id", resourceID), logger.F("error", err.Error())).Warn("清除快照失败")
		}
		return nil
	})
}

func (s *Service) publish(ctx context.Context, event notify.Event) {
	s.dispatch(ctx, func(ctx context.Context) error {
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.log.With(logger.F("event", string(event.Type)), logger.F("error", err.Error())).Warn("发布事件失败")
		}
		return nil
	})
}

// dispatch 把旁路任务交给工作池；池满或未配置时同步执行.
//
// 旁路任务不使用请求的 ctx——请求返回后任务仍要完成.
func (s *Service) dispatch(ctx context.Context, task worker.Task) {
	if s.pool == nil {
		task(context.WithoutCancel(ctx))
		return
	}

	if err := s.pool.Submit(ctx, task); err != nil {
		if errors.Is(err, worker.ErrSaturated) {
			s.log.Warn("工作池已满，旁路任务降级为同步执行")
		}
		task(context.WithoutCancel(ctx))
	}
}

// recordAdmission 记录准入指标.
func (s *Service) recordAdmission(operation string, err error) {
	if s.collector == nil {
		return
	}
	s.collector.IncAdmission(operation, admissionOutcome(err))
}

func admissionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, lock.ErrLockTimeout):
		return "contention"
	case errors.Is(err, ErrCapacityExceeded):
		return "full"
	case errors.Is(err, ErrResourceClosed):
		return "closed"
	case errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrAlreadyStarted),
		errors.Is(err, ErrNotMember), errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrOwnerTransferRequired):
		return "rejected"
	default:
		return "error"
	}
}
