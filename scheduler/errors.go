package scheduler

import "errors"

// 预定义错误.
var (
	// ErrJobNameEmpty 任务名称为空.
	ErrJobNameEmpty = errors.New("scheduler: 任务名称不能为空")

	// ErrScheduleEmpty 调度表达式为空.
	ErrScheduleEmpty = errors.New("scheduler: 调度表达式不能为空")

	// ErrHandlerNil 任务处理函数为空.
	ErrHandlerNil = errors.New("scheduler: 任务处理函数不能为空")

	// ErrScheduleInvalid 无效的调度表达式.
	ErrScheduleInvalid = errors.New("scheduler: 无效的调度表达式")

	// ErrJobExists 任务已存在.
	ErrJobExists = errors.New("scheduler: 任务已存在")

	// ErrSchedulerClosed 调度器已关闭.
	ErrSchedulerClosed = errors.New("scheduler: 调度器已关闭")
)
