// Package metrics 提供锁路径与容量操作的 Prometheus 指标.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrNilConfig 配置为空.
var ErrNilConfig = errors.New("metrics: 配置为空")

// Config 指标配置.
type Config struct {
	// Namespace 指标命名空间前缀
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
}

// Collector 指标收集器.
type Collector struct {
	registry *prometheus.Registry

	// 锁指标
	lockAcquiredTotal       *prometheus.CounterVec
	lockTimeoutTotal        *prometheus.CounterVec
	lockInfraErrorTotal     *prometheus.CounterVec
	lockReleaseFailureTotal *prometheus.CounterVec
	lockWaitSeconds         *prometheus.HistogramVec

	// 容量操作指标
	admissionTotal *prometheus.CounterVec
}

// NewCollector 创建指标收集器.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "gather"
	}

	// 独立注册表，避免与默认注册表冲突
	registry := prometheus.NewRegistry()

	c := &Collector{registry: registry}

	c.lockAcquiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquired_total",
			Help:      "Total number of successful lock acquisitions",
		},
		[]string{"resource_type"},
	)

	c.lockTimeoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "timeout_total",
			Help:      "Total number of lock acquisition timeouts",
		},
		[]string{"resource_type"},
	)

	c.lockInfraErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "infra_error_total",
			Help:      "Total number of lock infrastructure failures",
		},
		[]string{"resource_type"},
	)

	c.lockReleaseFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "release_failure_total",
			Help:      "Total number of swallowed lock release failures",
		},
		[]string{"resource_type"},
	)

	c.lockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for lock acquisition in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 3, 5, 10, 15},
		},
		[]string{"resource_type"},
	)

	c.admissionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capacity",
			Name:      "admission_total",
			Help:      "Total number of capacity operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	registry.MustRegister(
		c.lockAcquiredTotal,
		c.lockTimeoutTotal,
		c.lockInfraErrorTotal,
		c.lockReleaseFailureTotal,
		c.lockWaitSeconds,
		c.admissionTotal,
	)

	return c, nil
}

// MustNewCollector 创建指标收集器，失败时 panic.
func MustNewCollector(cfg *Config) *Collector {
	c, err := NewCollector(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// ObserveLockWait 记录一次锁等待耗时.
func (c *Collector) ObserveLockWait(resourceType string, wait time.Duration) {
	c.lockWaitSeconds.WithLabelValues(resourceType).Observe(wait.Seconds())
}

// IncLockAcquired 记录一次成功加锁.
func (c *Collector) IncLockAcquired(resourceType string) {
	c.lockAcquiredTotal.WithLabelValues(resourceType).Inc()
}

// IncLockTimeout 记录一次加锁超时.
func (c *Collector) IncLockTimeout(resourceType string) {
	c.lockTimeoutTotal.WithLabelValues(resourceType).Inc()
}

// IncLockInfraError 记录一次锁基础设施故障.
func (c *Collector) IncLockInfraError(resourceType string) {
	c.lockInfraErrorTotal.WithLabelValues(resourceType).Inc()
}

// IncLockReleaseFailure 记录一次被吞掉的解锁失败.
func (c *Collector) IncLockReleaseFailure(resourceType string) {
	c.lockReleaseFailureTotal.WithLabelValues(resourceType).Inc()
}

// IncAdmission 记录一次容量操作结果.
//
// operation: join / leave / transfer; outcome: ok / capacity_exceeded / contention / error.
func (c *Collector) IncAdmission(operation, outcome string) {
	c.admissionTotal.WithLabelValues(operation, outcome).Inc()
}

// Registry 返回底层注册表.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回指标暴露端点.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
