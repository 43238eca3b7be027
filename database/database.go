// Package database 提供数据库连接和管理功能.
package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Tsukikage7/gather/logger"
)

// 支持的驱动类型.
const (
	DriverMySQL      = "mysql"
	DriverPostgres   = "postgres"
	DriverPostgreSQL = "postgresql"
	DriverSQLite     = "sqlite"
	DriverSQLite3    = "sqlite3"
)

// 预定义错误.
var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("database: 配置为空")
	// ErrNilLogger 日志记录器为空.
	ErrNilLogger = errors.New("database: 日志记录器为空")
	// ErrEmptyDriver 驱动类型为空.
	ErrEmptyDriver = errors.New("database: 驱动类型为空")
	// ErrEmptyDSN 连接字符串为空.
	ErrEmptyDSN = errors.New("database: 连接字符串为空")
	// ErrUnsupportedDriver 不支持的驱动类型.
	ErrUnsupportedDriver = errors.New("database: 不支持的驱动类型")
	// ErrRegisterTracingPlugin 注册追踪插件失败.
	ErrRegisterTracingPlugin = errors.New("database: 注册追踪插件失败")
)

// Config 数据库配置.
type Config struct {
	// Driver 数据库驱动类型：mysql, postgres, sqlite
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// DSN 数据库连接字符串
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// AutoMigrate 是否自动迁移表结构
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" mapstructure:"auto_migrate"`

	// Pool 连接池配置
	Pool PoolConfig `json:"pool" yaml:"pool" mapstructure:"pool"`

	// SlowThreshold 慢查询阈值
	SlowThreshold time.Duration `json:"slow_threshold" yaml:"slow_threshold" mapstructure:"slow_threshold"`

	// LogLevel 日志级别: silent, error, warn, info
	LogLevel string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`

	// EnableTracing 启用链路追踪
	EnableTracing bool `json:"enable_tracing" yaml:"enable_tracing" mapstructure:"enable_tracing"`
}

// PoolConfig 连接池配置.
//
// 会话锁需要独占一条物理连接，MaxOpen 同时限制了可并发持锁的请求数.
type PoolConfig struct {
	// MaxOpen 最大打开连接数
	MaxOpen int `json:"max_open" yaml:"max_open" mapstructure:"max_open"`

	// MaxIdle 最大空闲连接数
	MaxIdle int `json:"max_idle" yaml:"max_idle" mapstructure:"max_idle"`

	// MaxLifetime 连接最大生命周期
	MaxLifetime time.Duration `json:"max_lifetime" yaml:"max_lifetime" mapstructure:"max_lifetime"`

	// MaxIdleTime 空闲连接最大存活时间
	MaxIdleTime time.Duration `json:"max_idle_time" yaml:"max_idle_time" mapstructure:"max_idle_time"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		SlowThreshold: 200 * time.Millisecond,
		LogLevel:      "warn",
		Pool: PoolConfig{
			MaxOpen:     100,
			MaxIdle:     10,
			MaxLifetime: time.Hour,
			MaxIdleTime: 10 * time.Minute,
		},
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return ErrEmptyDriver
	}
	if c.DSN == "" {
		return ErrEmptyDSN
	}
	return nil
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Pool.MaxOpen == 0 {
		c.Pool.MaxOpen = 100
	}
	if c.Pool.MaxIdle == 0 {
		c.Pool.MaxIdle = 10
	}
	if c.Pool.MaxLifetime == 0 {
		c.Pool.MaxLifetime = time.Hour
	}
	if c.Pool.MaxIdleTime == 0 {
		c.Pool.MaxIdleTime = 10 * time.Minute
	}
}

// Database 数据库操作接口.
type Database interface {
	// GORM 获取 GORM 实例
	GORM() *gorm.DB

	// SQLDB 获取底层连接池，用于会话级锁的连接固定
	SQLDB() (*sql.DB, error)

	// Driver 返回驱动类型
	Driver() string

	// AutoMigrate 自动迁移表结构
	AutoMigrate(models ...any) error

	// Close 关闭数据库连接
	Close() error
}

// NewDatabase 创建数据库连接.
func NewDatabase(config *Config, log logger.Logger) (Database, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if log == nil {
		return nil, ErrNilLogger
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return newGORMDatabase(config, log)
}

// MustNewDatabase 创建数据库连接，失败时 panic.
func MustNewDatabase(config *Config, log logger.Logger) Database {
	db, err := NewDatabase(config, log)
	if err != nil {
		panic(err)
	}
	return db
}

// DB 获取带 context 的 *gorm.DB.
func DB(ctx context.Context, db Database) *gorm.DB {
	return db.GORM().WithContext(ctx)
}
