// Package media 提供资源关联媒体的清理能力.
//
// 资源解散时其封面、相册等对象需要回收. 清理是尽力而为的副作用，
// 调用方（capacity.CleanupPolicy）对失败只记日志.
package media

import (
	"context"
	"errors"
)

// 预定义错误.
var (
	ErrNilConfig     = errors.New("media: 配置为空")
	ErrNilLogger     = errors.New("media: 日志记录器为空")
	ErrEmptyEndpoint = errors.New("media: endpoint 为空")
	ErrEmptyBucket   = errors.New("media: bucket 为空")
)

// Cleaner 媒体清理器.
type Cleaner interface {
	// RemoveAll 删除资源名下的全部媒体对象.
	RemoveAll(ctx context.Context, resourceID uint64) error
}

// Noop 返回什么都不做的清理器，用于未接入对象存储的部署.
func Noop() Cleaner {
	return &noopCleaner{}
}

type noopCleaner struct{}

func (n *noopCleaner) RemoveAll(ctx context.Context, resourceID uint64) error {
	return nil
}
