package retry

import (
	"errors"
	"fmt"
)

// ErrMaxAttempts 已达到最大重试次数.
var ErrMaxAttempts = errors.New("retry: 已达到最大重试次数")

// MaxAttemptsError 重试耗尽错误，携带最后一次的原始错误.
type MaxAttemptsError struct {
	Attempts int
	Err      error
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("%v (尝试 %d 次): %v", ErrMaxAttempts, e.Attempts, e.Err)
}

// Unwrap 返回最后一次的原始错误.
func (e *MaxAttemptsError) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is(err, ErrMaxAttempts).
func (e *MaxAttemptsError) Is(target error) bool {
	return target == ErrMaxAttempts
}
