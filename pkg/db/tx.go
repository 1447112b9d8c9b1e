package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SetLocalLockTimeout bounds row lock waits for the rest of the postgres
// transaction. Other dialects rely on the caller's context deadline.
func SetLocalLockTimeout(ctx context.Context, tx *gorm.DB, timeout time.Duration) error {
	if !IsPostgres(tx) || timeout <= 0 {
		return nil
	}
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return tx.WithContext(ctx).Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)).Error
}

// ReadOnlyTxOptions returns snapshot options for consistent multi-table reads.
// SQLite serializes everything already and rejects the isolation hint.
func ReadOnlyTxOptions(db *gorm.DB) *sql.TxOptions {
	if db == nil || db.Dialector == nil || db.Dialector.Name() == DialectSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// BeginTx starts a transaction on a connection acquired before acquireCtx
// ends. The transaction itself lives as long as ctx. release returns the
// connection to the pool and must run after Commit or Rollback.
func BeginTx(ctx, acquireCtx context.Context, db *gorm.DB, opts *sql.TxOptions) (tx *gorm.DB, release func(), err error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	conn, err := sqlDB.Conn(acquireCtx)
	if err != nil {
		return nil, nil, err
	}
	sqlTx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	tx = db.Session(&gorm.Session{Context: ctx, NewDB: true})
	tx.Statement.ConnPool = sqlTx
	return tx, func() { _ = conn.Close() }, nil
}
