package capacity

import (
	"fmt"
	"time"

	"github.com/Tsukikage7/gather/database"
)

// Resource 容量受限资源（小组或聚会）.
//
// 不变式：0 ≤ CurrentCount ≤ Capacity；
// 非 closed 时 Status == full 当且仅当 CurrentCount == Capacity.
// 任何修改 CurrentCount / Status 的代码必须持有该资源的锁.
type Resource struct {
	ID uint64 `gorm:"primaryKey"`

	// Type 资源类型：group / meeting，参与锁键派生
	Type string `gorm:"column:type;size:16;index"`

	// Kind 细分种类，决定锁超时（竞争画像）
	Kind string `gorm:"column:kind;size:32"`

	Capacity     int    `gorm:"column:capacity"`
	CurrentCount int    `gorm:"column:current_count"`
	Status       Status `gorm:"column:status;size:16;index"`

	// OwnerID 负责人，资源存续期间必须存在
	OwnerID uint64 `gorm:"column:owner_id;index"`

	// StartsAt 开始时间，仅聚会有；决定加入/退出是否还被允许
	StartsAt *time.Time `gorm:"column:starts_at"`

	database.BaseModel
}

// TableName 指定表名.
func (Resource) TableName() string { return "resources" }

// Started 报告资源是否已过开始时间.
func (r *Resource) Started(now time.Time) bool {
	return r.StartsAt != nil && !now.Before(*r.StartsAt)
}

// Closed 报告资源是否处于终态.
func (r *Resource) Closed() bool {
	return r.Status == StatusClosed
}

// Join 执行一次加入的状态转移. 必须在持锁状态下调用.
func (r *Resource) Join(now time.Time) error {
	if r.Closed() {
		return fmt.Errorf("%w: id=%d", ErrResourceClosed, r.ID)
	}
	if r.Started(now) {
		return fmt.Errorf("%w: id=%d starts_at=%s", ErrAlreadyStarted, r.ID, r.StartsAt)
	}
	if r.Status == StatusFull || r.CurrentCount >= r.Capacity {
		return fmt.Errorf("%w: id=%d capacity=%d", ErrCapacityExceeded, r.ID, r.Capacity)
	}

	r.CurrentCount++
	r.deriveStatus()
	return r.checkInvariant()
}

// Leave 执行一次退出的状态转移. 必须在持锁状态下调用.
//
// 已开始的资源只允许会触发解散的退出（剩余人数不超过清理阈值）——
// 正常退出窗口在开始时间前就关闭了.
func (r *Resource) Leave(now time.Time, cleanupThreshold int) error {
	if r.Closed() {
		return fmt.Errorf("%w: id=%d", ErrResourceClosed, r.ID)
	}
	if r.CurrentCount <= 0 {
		return fmt.Errorf("%w: id=%d", ErrNotMember, r.ID)
	}
	if r.Started(now) && r.CurrentCount-1 > cleanupThreshold {
		return fmt.Errorf("%w: id=%d 已开始且剩余人数高于解散阈值", ErrAlreadyStarted, r.ID)
	}

	r.CurrentCount--
	r.deriveStatus()
	return r.checkInvariant()
}

// Close 进入终态. 幂等.
func (r *Resource) Close() {
	r.Status = StatusClosed
}

// deriveStatus 从人数重新推导容量状态. closed 是终态，不再改变.
func (r *Resource) deriveStatus() {
	if r.Closed() {
		return
	}
	if r.CurrentCount >= r.Capacity {
		r.Status = StatusFull
	} else {
		r.Status = StatusOpen
	}
}

// checkInvariant 校验容量不变式.
func (r *Resource) checkInvariant() error {
	if r.CurrentCount < 0 || r.CurrentCount > r.Capacity {
		return fmt.Errorf("%w: id=%d count=%d capacity=%d",
			ErrInvariantViolated, r.ID, r.CurrentCount, r.Capacity)
	}
	return nil
}
