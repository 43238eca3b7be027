package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMapRowLockError(t *testing.T) {
	t.Run("lock wait timeout", func(t *testing.T) {
		err := mapRowLockError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})
		require.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("deadlock", func(t *testing.T) {
		err := mapRowLockError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
		require.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("other mysql error passes through", func(t *testing.T) {
		orig := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
		err := mapRowLockError(orig)
		require.NotErrorIs(t, err, ErrLockTimeout)
		require.ErrorIs(t, err, orig)
	})

	t.Run("pg lock not available", func(t *testing.T) {
		err := mapRowLockError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
		require.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("pg deadlock detected", func(t *testing.T) {
		err := mapRowLockError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
		require.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("other pg error passes through", func(t *testing.T) {
		orig := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
		err := mapRowLockError(orig)
		require.NotErrorIs(t, err, ErrLockTimeout)
		require.ErrorIs(t, err, orig)
	})

	t.Run("non driver error passes through", func(t *testing.T) {
		orig := errors.New("plain")
		require.Equal(t, orig, mapRowLockError(orig))
	})
}

func TestRowLock(t *testing.T) {
	ctx := context.Background()
	target := Target{Type: "counter", ID: 1, Kind: "test"}
	tables := map[string]string{"counter": "counters"}

	t.Run("nil database", func(t *testing.T) {
		_, err := NewRowLock(nil, tables)
		require.ErrorIs(t, err, ErrNilDatabase)
	})

	t.Run("unknown resource type", func(t *testing.T) {
		db := newTestDB(t, "rowlock_unknown")
		rl, err := NewRowLock(db, tables)
		require.NoError(t, err)

		err = rl.WithExclusive(ctx, Target{Type: "unregistered", ID: 1}, func(tx *gorm.DB) error {
			t.Fatal("不应调用工作单元")
			return nil
		})
		require.ErrorIs(t, err, ErrUnknownTable)
	})

	t.Run("commit on success", func(t *testing.T) {
		db := newTestDB(t, "rowlock_commit")
		rl, err := NewRowLock(db, tables)
		require.NoError(t, err)

		err = rl.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			return tx.Model(&counterRow{ID: 1}).Update("count", 3).Error
		})
		require.NoError(t, err)

		var row counterRow
		require.NoError(t, db.GORM().First(&row, 1).Error)
		require.Equal(t, 3, row.Count)
	})

	t.Run("rollback on error", func(t *testing.T) {
		db := newTestDB(t, "rowlock_rollback")
		rl, err := NewRowLock(db, tables)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = rl.WithExclusive(ctx, target, func(tx *gorm.DB) error {
			if uerr := tx.Model(&counterRow{ID: 1}).Update("count", 99).Error; uerr != nil {
				return uerr
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		var row counterRow
		require.NoError(t, db.GORM().First(&row, 1).Error)
		require.Equal(t, 0, row.Count)
	})
}
