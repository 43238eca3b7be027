package logger

import "fmt"

// Config 日志配置.
type Config struct {
	// ServiceName 服务名，作为 service 字段附加到每条日志
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	// Level 日志级别: debug, info, warn, error
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format 输出格式: json, console
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// EnableCaller 是否记录调用者信息
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ConfigError 配置错误.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("logger config error [%s]: %s", e.Field, e.Message)
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatConsole,
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	switch c.Level {
	case "", LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return &ConfigError{Field: "level", Message: "invalid log level: " + c.Level}
	}

	switch c.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return &ConfigError{Field: "format", Message: "invalid format: " + c.Format}
	}

	return nil
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
}
