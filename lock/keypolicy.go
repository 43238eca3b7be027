package lock

import (
	"strconv"
	"time"

	"github.com/Tsukikage7/gather/logger"
)

// DefaultNamespace 默认锁键命名空间前缀.
const DefaultNamespace = "gather:"

// DefaultTimeout 未知 Kind 时的保守默认超时.
const DefaultTimeout = 10 * time.Second

// KeyPolicy 派生锁键与等待超时.
//
// 锁键 = namespace + "<type>::<id>"；超时按 Kind 查表，
// 竞争越激烈的种类允许等待越久. 查表失败走默认值并记一条 warn，
// 不视为错误——新增种类不应导致加入/退出失败.
type KeyPolicy struct {
	namespace string
	timeouts  map[string]time.Duration
	fallback  time.Duration
	log       logger.Logger
}

// KeyPolicyOption KeyPolicy 配置选项.
type KeyPolicyOption func(*KeyPolicy)

// WithNamespace 设置锁键命名空间前缀.
func WithNamespace(namespace string) KeyPolicyOption {
	return func(p *KeyPolicy) {
		p.namespace = namespace
	}
}

// WithFallbackTimeout 设置未知 Kind 的默认超时.
func WithFallbackTimeout(d time.Duration) KeyPolicyOption {
	return func(p *KeyPolicy) {
		p.fallback = d
	}
}

// WithKeyPolicyLogger 设置日志记录器.
func WithKeyPolicyLogger(log logger.Logger) KeyPolicyOption {
	return func(p *KeyPolicy) {
		p.log = log
	}
}

// NewKeyPolicy 创建锁键策略.
//
// timeouts: Kind -> 等待超时. 例如低竞争的常规小组 1s，秒杀式聚会 3s~15s.
func NewKeyPolicy(timeouts map[string]time.Duration, opts ...KeyPolicyOption) *KeyPolicy {
	p := &KeyPolicy{
		namespace: DefaultNamespace,
		timeouts:  timeouts,
		fallback:  DefaultTimeout,
		log:       logger.Nop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// KeyFor 返回目标资源的锁键与等待超时.
func (p *KeyPolicy) KeyFor(target Target) (string, time.Duration) {
	key := p.namespace + target.Type + "::" + strconv.FormatUint(target.ID, 10)

	timeout, ok := p.timeouts[target.Kind]
	if !ok {
		p.log.With(
			logger.F("kind", target.Kind),
			logger.F("key", key),
			logger.F("fallback", p.fallback),
		).Warn("未配置该种类的锁超时，使用默认值")
		return key, p.fallback
	}

	return key, timeout
}
