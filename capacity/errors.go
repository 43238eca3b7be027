package capacity

import "errors"

// 领域错误. 与 lock.ErrLockTimeout 严格区分：
// 这里都是业务规则失败，不属于并发竞争，不做自动重试.
var (
	// ErrNotFound 资源不存在.
	ErrNotFound = errors.New("capacity: 资源不存在")

	// ErrResourceClosed 资源已关闭（解散或已结束）.
	ErrResourceClosed = errors.New("capacity: 资源已关闭")

	// ErrCapacityExceeded 名额已满. 持锁校验失败，属于业务错误而非并发错误.
	ErrCapacityExceeded = errors.New("capacity: 名额已满")

	// ErrAlreadyStarted 已过开始时间，禁止该操作.
	ErrAlreadyStarted = errors.New("capacity: 已过开始时间")

	// ErrAlreadyJoined 已加入过该资源.
	ErrAlreadyJoined = errors.New("capacity: 已加入过该资源")

	// ErrNotMember 不是该资源的成员.
	ErrNotMember = errors.New("capacity: 不是该资源的成员")

	// ErrNotOwner 操作要求负责人身份.
	ErrNotOwner = errors.New("capacity: 需要负责人身份")

	// ErrOwnerTransferRequired 负责人退出前必须先移交身份.
	ErrOwnerTransferRequired = errors.New("capacity: 负责人退出前必须先移交身份")

	// ErrInvariantViolated 容量不变式被破坏，说明有绕过锁的写入.
	ErrInvariantViolated = errors.New("capacity: 容量不变式被破坏")

	// ErrNilRedisClient Redis 客户端为空.
	ErrNilRedisClient = errors.New("capacity: redis 客户端不能为空")

	// ErrNilDatabase 数据库为空.
	ErrNilDatabase = errors.New("capacity: 数据库不能为空")

	// ErrNilLocker 锁协调器为空.
	ErrNilLocker = errors.New("capacity: 锁协调器不能为空")

	// ErrNilRepository 仓储为空.
	ErrNilRepository = errors.New("capacity: 仓储不能为空")
)
