package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/audit"
	"github.com/smallbiznis/pressledger/internal/balance"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/config"
	"github.com/smallbiznis/pressledger/internal/invoice"
	"github.com/smallbiznis/pressledger/internal/lease"
	"github.com/smallbiznis/pressledger/internal/ledger"
	"github.com/smallbiznis/pressledger/internal/observability"
	"github.com/smallbiznis/pressledger/internal/reconciliation"
	"github.com/smallbiznis/pressledger/internal/scheduler"
	"github.com/smallbiznis/pressledger/internal/statement"
	"github.com/smallbiznis/pressledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lease.Module,

		// Domain services required by scheduler
		audit.Module,
		balance.Module,
		statement.Module,
		ledger.Module,
		invoice.Module,
		reconciliation.Module,

		// No server module!
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// StartScheduler runs the loop regardless of SCHEDULER_ENABLED; this binary
// exists only to run it.
func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
