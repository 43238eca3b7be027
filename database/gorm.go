package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/Tsukikage7/gather/logger"
)

// BaseModel GORM 基础模型.
//
// DeletedTime 提供软删除：资源关闭与参与记录清理都走软删除路径.
type BaseModel struct {
	CreatedTime time.Time      `gorm:"column:created_time;autoCreateTime"`
	UpdatedTime time.Time      `gorm:"column:updated_time;autoUpdateTime"`
	DeletedTime gorm.DeletedAt `gorm:"column:deleted_time;index"`
}

// gormDatabase GORM 数据库实现.
type gormDatabase struct {
	db     *gorm.DB
	config *Config
	logger logger.Logger
}

// newGORMDatabase 创建 GORM 数据库连接.
func newGORMDatabase(config *Config, log logger.Logger) (Database, error) {
	dialector, err := getDialector(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{
		Logger: newGORMLoggerAdapter(log, config.SlowThreshold, config.LogLevel),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	// 注册链路追踪插件
	if config.EnableTracing {
		if err = db.Use(tracing.NewPlugin()); err != nil {
			return nil, errors.Join(ErrRegisterTracingPlugin, err)
		}
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(config.Pool.MaxOpen)
	sqlDB.SetMaxIdleConns(config.Pool.MaxIdle)
	sqlDB.SetConnMaxLifetime(config.Pool.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.Pool.MaxIdleTime)

	return &gormDatabase{
		db:     db,
		config: config,
		logger: log,
	}, nil
}

// getDialector 根据驱动类型返回对应的 Dialector.
func getDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverPostgres, DriverPostgreSQL:
		return postgres.Open(dsn), nil
	case DriverSQLite, DriverSQLite3:
		return sqlite.Open(dsn), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

// DialectorForConn 返回绑定在既有连接上的 Dialector.
//
// 会话级锁要求业务事务运行在持锁的那条连接上，
// 这里跳过版本探测等初始化查询，避免在锁路径上产生额外往返.
func DialectorForConn(driver string, conn gorm.ConnPool) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL:
		return mysql.New(mysql.Config{
			Conn:                      conn,
			SkipInitializeWithVersion: true,
		}), nil
	case DriverPostgres, DriverPostgreSQL:
		return postgres.New(postgres.Config{Conn: conn}), nil
	case DriverSQLite, DriverSQLite3:
		return sqlite.Dialector{Conn: conn}, nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

// GORM 获取 GORM 实例.
func (g *gormDatabase) GORM() *gorm.DB {
	return g.db
}

// SQLDB 获取底层连接池.
func (g *gormDatabase) SQLDB() (*sql.DB, error) {
	return g.db.DB()
}

// Driver 返回驱动类型.
func (g *gormDatabase) Driver() string {
	return g.config.Driver
}

// AutoMigrate 自动迁移表结构.
func (g *gormDatabase) AutoMigrate(models ...any) error {
	if !g.config.AutoMigrate {
		g.logger.Debug("[Database] 自动迁移已禁用，跳过表结构创建")
		return nil
	}

	if err := g.db.AutoMigrate(models...); err != nil {
		g.logger.Error("[Database] 自动迁移失败", "error", err)
		return err
	}
	return nil
}

// Close 关闭数据库连接.
func (g *gormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLoggerAdapter GORM 日志适配器.
type gormLoggerAdapter struct {
	logger        logger.Logger
	slowThreshold time.Duration
	logLevel      gormlogger.LogLevel
}

// newGORMLoggerAdapter 创建 GORM 日志适配器.
func newGORMLoggerAdapter(log logger.Logger, slowThreshold time.Duration, level string) gormlogger.Interface {
	logLevel := gormlogger.Warn
	switch level {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}

	return &gormLoggerAdapter{
		logger:        log,
		slowThreshold: slowThreshold,
		logLevel:      logLevel,
	}
}

// LogMode 设置日志模式.
func (l *gormLoggerAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

// Info 信息日志.
func (l *gormLoggerAdapter) Info(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		l.logger.Infof(msg, data...)
	}
}

// Warn 警告日志.
func (l *gormLoggerAdapter) Warn(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		l.logger.Warnf(msg, data...)
	}
}

// Error 错误日志.
func (l *gormLoggerAdapter) Error(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		l.logger.Errorf(msg, data...)
	}
}

// Trace SQL 跟踪日志.
func (l *gormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	log := l.logger.With(
		logger.F("elapsed", elapsed),
		logger.F("rows", rows),
		logger.F("sql", sql),
	)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= gormlogger.Error:
		log.Error("sql error: ", err)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.logLevel >= gormlogger.Warn:
		log.Warn("slow sql")
	case l.logLevel >= gormlogger.Info:
		log.Debug("sql trace")
	}
}
