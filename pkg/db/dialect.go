package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/pressledger/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	c := configFrom(cfg)
	switch c.Type {
	case DialectMySQL:
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User,
			c.Password,
			c.Host,
			c.Port,
			c.Name,
		)), nil
	case DialectPostgres:
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			c.Host,
			c.User,
			c.Password,
			c.Name,
			c.Port,
			c.SSLMode,
		)), nil
	case DialectSQLite:
		path := c.Path
		if path == "" {
			path = "pressledger.db"
		}
		return sqlite.Open(path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", c.Type)
	}
}

// IsPostgres reports whether the connection speaks the postgres dialect.
func IsPostgres(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == DialectPostgres
}
