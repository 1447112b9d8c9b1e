package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"

	mysqlDuplicateEntry = 1062
	mysqlLockWaitTimout = 1205
	mysqlDeadlock       = 1213
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if code, ok := pgCode(err); ok {
		return code == pgUniqueViolation
	}
	if number, ok := mysqlNumber(err); ok {
		return number == mysqlDuplicateEntry
	}

	msg := err.Error()
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsLockTimeout reports lock_timeout expiry on postgres, innodb lock wait
// timeouts and a busy sqlite database.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := pgCode(err); ok {
		return code == pgLockNotAvailable || code == pgQueryCanceled
	}
	if number, ok := mysqlNumber(err); ok {
		return number == mysqlLockWaitTimout
	}
	return strings.Contains(err.Error(), "database is locked")
}

func IsSerializationFailure(err error) bool {
	code, ok := pgCode(err)
	return ok && code == pgSerializationFailure
}

func IsDeadlock(err error) bool {
	if code, ok := pgCode(err); ok {
		return code == pgDeadlockDetected
	}
	number, ok := mysqlNumber(err)
	return ok && number == mysqlDeadlock
}

// IsRetryable reports contention errors a caller may retry after backoff.
func IsRetryable(err error) bool {
	return IsLockTimeout(err) || IsSerializationFailure(err) || IsDeadlock(err)
}

// IsDriverError reports whether err originated in a database driver.
func IsDriverError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := pgCode(err); ok {
		return true
	}
	if _, ok := mysqlNumber(err); ok {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

func pgCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

func mysqlNumber(err error) (uint16, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number, true
	}
	return 0, false
}
