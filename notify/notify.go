// Package notify 提供成员变动事件的下游通知.
//
// 加入、退出、移交、解散会产生事件并发布给下游（推送、聊天扇出等）.
// 发布是尽力而为的副作用：失败只记日志，绝不回滚触发它的业务操作.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// 预定义错误.
var (
	ErrNilConfig = errors.New("notify: 配置为空")
	ErrEmptyURL  = errors.New("notify: broker 地址为空")
	ErrClosed    = errors.New("notify: 通知器已关闭")
)

// EventType 事件类型.
type EventType string

const (
	// EventJoined 参与者加入.
	EventJoined EventType = "member.joined"
	// EventLeft 参与者退出.
	EventLeft EventType = "member.left"
	// EventOwnerTransferred 负责人移交.
	EventOwnerTransferred EventType = "owner.transferred"
	// EventResourceClosed 资源解散/关闭.
	EventResourceClosed EventType = "resource.closed"
)

// Event 成员变动事件.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	ResourceID    uint64    `json:"resource_id"`
	ParticipantID uint64    `json:"participant_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewEvent 创建事件.
func NewEvent(eventType EventType, resourceID, participantID uint64) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		ResourceID:    resourceID,
		ParticipantID: participantID,
		OccurredAt:    time.Now(),
	}
}

// Notifier 事件通知器.
type Notifier interface {
	// Publish 发布事件.
	Publish(ctx context.Context, event Event) error

	// Close 关闭通知器.
	Close() error
}

// Noop 返回丢弃所有事件的通知器.
func Noop() Notifier {
	return &noopNotifier{}
}

type noopNotifier struct{}

func (n *noopNotifier) Publish(ctx context.Context, event Event) error { return nil }
func (n *noopNotifier) Close() error                                   { return nil }
