package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tsukikage7/gather/config"
	"github.com/Tsukikage7/gather/database"
	"github.com/Tsukikage7/gather/logger"
	"github.com/Tsukikage7/gather/media"
	"github.com/Tsukikage7/gather/metrics"
	"github.com/Tsukikage7/gather/notify"
)

// 锁策略.
const (
	// StrategyAdvisory 会话级 advisory 锁，默认策略.
	StrategyAdvisory = "advisory"

	// StrategyRow 行锁（SELECT ... FOR UPDATE）备选策略.
	StrategyRow = "row"
)

// 预定义错误.
var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("app: 配置为空")

	// ErrUnknownStrategy 未知的锁策略.
	ErrUnknownStrategy = errors.New("app: 未知的锁策略")
)

// LockConfig 锁配置.
type LockConfig struct {
	// Strategy 锁策略：advisory 或 row
	Strategy string `json:"strategy" yaml:"strategy" mapstructure:"strategy"`

	// Namespace 锁键命名空间前缀
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`

	// Timeouts 按资源种类的锁等待超时
	Timeouts map[string]time.Duration `json:"timeouts" yaml:"timeouts" mapstructure:"timeouts"`

	// FallbackTimeout 未配置种类的兜底超时
	FallbackTimeout time.Duration `json:"fallback_timeout" yaml:"fallback_timeout" mapstructure:"fallback_timeout"`
}

// RedisConfig 快照缓存配置. Addr 为空时使用进程内缓存.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string        `json:"password" yaml:"password" mapstructure:"password"`
	DB       int           `json:"db" yaml:"db" mapstructure:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// CapacityConfig 容量管理配置.
type CapacityConfig struct {
	// CleanupThreshold 自动清理阈值
	CleanupThreshold int `json:"cleanup_threshold" yaml:"cleanup_threshold" mapstructure:"cleanup_threshold"`
}

// WorkerConfig 旁路任务工作池配置.
type WorkerConfig struct {
	Size          int `json:"size" yaml:"size" mapstructure:"size"`
	QueueCapacity int `json:"queue_capacity" yaml:"queue_capacity" mapstructure:"queue_capacity"`
}

// SchedulerConfig 调度配置.
type SchedulerConfig struct {
	// CloseStartedSchedule 关闭已开始资源的 Cron 表达式
	CloseStartedSchedule string `json:"close_started_schedule" yaml:"close_started_schedule" mapstructure:"close_started_schedule"`
}

// MetricsConfig 指标暴露配置. Addr 为空时不启动指标服务.
type MetricsConfig struct {
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Addr      string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// Config 应用配置.
type Config struct {
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	Logger    logger.Config   `json:"logger" yaml:"logger" mapstructure:"logger"`
	Database  database.Config `json:"database" yaml:"database" mapstructure:"database"`
	Redis     RedisConfig     `json:"redis" yaml:"redis" mapstructure:"redis"`
	Lock      LockConfig      `json:"lock" yaml:"lock" mapstructure:"lock"`
	Capacity  CapacityConfig  `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker" mapstructure:"worker"`
	Notify    notify.Config   `json:"notify" yaml:"notify" mapstructure:"notify"`
	Media     media.Config    `json:"media" yaml:"media" mapstructure:"media"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
}

// LoadConfig 从文件加载应用配置，环境变量前缀 GATHER_.
func LoadConfig(path string) (*Config, error) {
	return config.Load[Config](path, config.WithEnvPrefix("GATHER"))
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "gather"
	}
	if c.Lock.Strategy == "" {
		c.Lock.Strategy = StrategyAdvisory
	}
	if c.Scheduler.CloseStartedSchedule == "" {
		c.Scheduler.CloseStartedSchedule = "*/1 * * * *"
	}
	c.Logger.ApplyDefaults()
	c.Database.ApplyDefaults()
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	switch c.Lock.Strategy {
	case "", StrategyAdvisory, StrategyRow:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, c.Lock.Strategy)
	}
	// 媒体清理可选，配了 endpoint 才要求完整
	if c.Media.Endpoint != "" {
		if err := c.Media.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// metricsConfig 转换为 metrics 包配置.
func (c *Config) metricsConfig() *metrics.Config {
	namespace := c.Metrics.Namespace
	if namespace == "" {
		namespace = c.ServiceName
	}
	return &metrics.Config{Namespace: namespace}
}
