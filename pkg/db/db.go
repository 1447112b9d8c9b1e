package db

import (
	"context"
	"time"

	"github.com/smallbiznis/pressledger/internal/config"
	"github.com/smallbiznis/pressledger/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

// New opens the configured database and closes it with the fx lifecycle.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := logger.DefaultGormLoggerConfig()
	gormCfg.ExpectedError = func(err error) bool {
		return IsRetryable(err) || IsDuplicateKeyErr(err)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(gormCfg),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.DBName))); err != nil {
		return nil, err
	}
	if err := conn.Use(gormprom.New(gormprom.Config{
		DBName:          cfg.DBName,
		RefreshInterval: 15,
	})); err != nil {
		log.Warn("db metrics plugin disabled", zap.Error(err))
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	c := configFrom(cfg)
	if c.Type == DialectSQLite {
		// one writer; locked sections would otherwise see SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		if c.MaxOpenConn > 0 {
			sqlDB.SetMaxOpenConns(c.MaxOpenConn)
		}
		if c.MaxIdleConn > 0 {
			sqlDB.SetMaxIdleConns(c.MaxIdleConn)
		}
	}
	if c.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(seconds(c.ConnMaxLifetime))
	}
	if c.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(seconds(c.ConnMaxIdleTime))
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return sqlDB.Close()
		},
	})

	log.Info("database connected", zap.String("type", c.Type), zap.String("name", c.Name))
	return conn, nil
}
