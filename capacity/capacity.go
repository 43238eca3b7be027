// Package capacity 提供容量受限资源的领域模型与用例.
//
// 小组和聚会都有人数上限，高并发加入/退出必须逐资源串行执行，
// 否则会超卖名额。所有修改 CurrentCount / Status 的操作都在
// lock.Locker 的临界区内进行；锁外的读取（展示用途）是
// 最终一致的快照，绝不用于加入/退出决策.
//
// 状态机：
//
//	open ──加入至满──▶ full ──退出──▶ open
//	open/full ──人数降至阈值──▶ closed（终态，软删除）
package capacity

import "time"

// 资源类型常量，参与锁键派生.
const (
	TypeGroup   = "group"
	TypeMeeting = "meeting"
)

// 细分种类常量，决定锁等待超时.
const (
	KindGroup        = "group"
	KindMeeting      = "meeting"
	KindMeetingFlash = "meeting_flash"
)

// Status 资源容量状态.
type Status string

const (
	// StatusOpen 未满员，可以加入.
	StatusOpen Status = "open"
	// StatusFull 已满员.
	StatusFull Status = "full"
	// StatusClosed 终态：已解散或已过开始时间被关闭.
	StatusClosed Status = "closed"
)

// Role 参与角色.
type Role string

const (
	// RoleOwner 创建者/负责人，资源存续期间必须有且仅有一个.
	RoleOwner Role = "owner"
	// RoleMember 普通成员.
	RoleMember Role = "member"
)

// DefaultCleanupThreshold 自动清理阈值：退出后人数降至该值及以下时资源被解散.
const DefaultCleanupThreshold = 1

// Clock 时间源，测试时可替换.
type Clock func() time.Time
