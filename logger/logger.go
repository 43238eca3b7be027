// Package logger 提供结构化日志记录功能.
package logger

// 日志级别常量.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// 输出格式常量.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Field 表示一个日志字段.
type Field struct {
	Key   string
	Value any
}

// F 创建日志字段.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger 日志记录器接口.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	// With 返回携带附加字段的 Logger.
	With(fields ...Field) Logger

	// Sync 刷新缓冲区.
	Sync() error
}

// NewLogger 创建 logger 实例.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	return newZapLogger(config)
}

// MustNewLogger 创建 logger 实例，失败时 panic.
func MustNewLogger(config *Config) Logger {
	log, err := NewLogger(config)
	if err != nil {
		panic(err)
	}
	return log
}

// Nop 返回丢弃所有输出的 Logger，用于测试.
func Nop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(args ...any)                 {}
func (n *nopLogger) Debugf(format string, args ...any) {}
func (n *nopLogger) Info(args ...any)                  {}
func (n *nopLogger) Infof(format string, args ...any)  {}
func (n *nopLogger) Warn(args ...any)                  {}
func (n *nopLogger) Warnf(format string, args ...any)  {}
func (n *nopLogger) Error(args ...any)                 {}
func (n *nopLogger) Errorf(format string, args ...any) {}
func (n *nopLogger) With(fields ...Field) Logger       { return n }
func (n *nopLogger) Sync() error                       { return nil }
