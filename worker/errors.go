package worker

import "errors"

// 预定义错误.
var (
	// ErrSaturated 队列已满，任务被立即拒绝.
	ErrSaturated = errors.New("worker: 队列已满")

	// ErrClosed 池已关闭.
	ErrClosed = errors.New("worker: 池已关闭")

	// ErrNilTask 任务为空.
	ErrNilTask = errors.New("worker: 任务不能为空")

	// ErrShutdownTimeout 等待在途任务完成超时.
	ErrShutdownTimeout = errors.New("worker: 关闭等待超时")
)
