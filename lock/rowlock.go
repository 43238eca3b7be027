package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/Tsukikage7/gather/database"
	"github.com/Tsukikage7/gather/logger"
)

// MySQL 错误码.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// Postgres SQLSTATE.
const (
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
)

// RowLock 行级悲观锁实现.
//
// 低竞争资源的替代策略：在普通事务内对资源行执行
// SELECT ... FOR UPDATE，以独占行锁串行化修改.
// 省去固定连接的复杂性，但事务会被锁等待占用，
// 等锁超时（MySQL 1205、Postgres 55P03）同样映射为
// ErrLockTimeout，两种后端对调用方呈现同一竞争信号.
type RowLock struct {
	db     database.Database
	tables map[string]string
	policy *KeyPolicy
	log    logger.Logger
}

// RowLockOption RowLock 配置选项.
type RowLockOption func(*RowLock)

// WithRowLockLogger 设置日志记录器.
func WithRowLockLogger(log logger.Logger) RowLockOption {
	return func(r *RowLock) {
		r.log = log
	}
}

// WithRowLockKeyPolicy 设置锁键策略，等锁上限沿用其按 Kind 的超时.
//
// 不设置时统一使用 DefaultTimeout.
func WithRowLockKeyPolicy(policy *KeyPolicy) RowLockOption {
	return func(r *RowLock) {
		r.policy = policy
	}
}

// NewRowLock 创建行级锁.
//
// tables: 资源类型 -> 表名，用于定位要锁的行.
func NewRowLock(db database.Database, tables map[string]string, opts ...RowLockOption) (*RowLock, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	r := &RowLock{
		db:     db,
		tables: tables,
		log:    logger.Nop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// WithExclusive 持有目标资源的行锁执行工作单元.
func (r *RowLock) WithExclusive(ctx context.Context, target Target, fn UnitOfWork) error {
	table, ok := r.tables[target.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, target.Type)
	}

	timeout := DefaultTimeout
	if r.policy != nil {
		_, timeout = r.policy.KeyFor(target)
	}

	err := database.DB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		driver := r.db.Driver()

		// sqlite 单写者，无 FOR UPDATE 语法，事务本身已足够
		if driver == database.DriverSQLite || driver == database.DriverSQLite3 {
			return fn(tx)
		}

		// Postgres 默认无限等待行锁，SET LOCAL 把等锁上限限定在
		// 本事务内，超过后以 55P03 报错
		if driver == database.DriverPostgres || driver == database.DriverPostgreSQL {
			ms := timeout.Milliseconds()
			if ms < 1 {
				ms = 1
			}
			if lockErr := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)).Error; lockErr != nil {
				return mapRowLockError(lockErr)
			}
		}

		var id uint64
		if lockErr := tx.Raw(
			"SELECT id FROM "+table+" WHERE id = ? FOR UPDATE", target.ID,
		).Scan(&id).Error; lockErr != nil {
			return mapRowLockError(lockErr)
		}

		return fn(tx)
	})

	if errors.Is(err, ErrLockTimeout) {
		r.log.With(logger.F("target", target.String())).Warn("行锁等待超时")
	}

	return err
}

// mapRowLockError 把驱动层的等锁错误映射为统一的竞争信号.
func mapRowLockError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected:
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
	}

	return err
}
