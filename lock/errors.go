package lock

import "errors"

// 预定义错误.
var (
	// ErrLockTimeout 等待超时未获取到锁.
	//
	// 没有任何修改发生，属于可重试的竞争信号（"请求过多，请稍后再试"），
	// 调用方应与业务错误区分开向上呈现.
	ErrLockTimeout = errors.New("lock: 等待超时未获取到锁")

	// ErrLockInfrastructure 锁基础设施故障（连接异常等），重试预算耗尽后出现.
	// 对当前请求是致命的，但连接仍会被归还.
	ErrLockInfrastructure = errors.New("lock: 锁基础设施故障")

	// ErrNilDatabase 数据库实例为空.
	ErrNilDatabase = errors.New("lock: 数据库实例为空")

	// ErrNilSessionLocker 会话锁原语为空.
	ErrNilSessionLocker = errors.New("lock: 会话锁原语为空")

	// ErrNilKeyPolicy 锁键策略为空.
	ErrNilKeyPolicy = errors.New("lock: 锁键策略为空")

	// ErrUnknownTable 行级锁找不到资源类型对应的表.
	ErrUnknownTable = errors.New("lock: 未注册该资源类型的表")
)
