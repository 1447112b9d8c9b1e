package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/allocation"
	"github.com/smallbiznis/pressledger/internal/audit"
	"github.com/smallbiznis/pressledger/internal/balance"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/config"
	"github.com/smallbiznis/pressledger/internal/customer"
	"github.com/smallbiznis/pressledger/internal/invoice"
	"github.com/smallbiznis/pressledger/internal/lease"
	"github.com/smallbiznis/pressledger/internal/ledger"
	"github.com/smallbiznis/pressledger/internal/migration"
	"github.com/smallbiznis/pressledger/internal/observability"
	"github.com/smallbiznis/pressledger/internal/payment"
	"github.com/smallbiznis/pressledger/internal/reconciliation"
	"github.com/smallbiznis/pressledger/internal/scheduler"
	"github.com/smallbiznis/pressledger/internal/server"
	"github.com/smallbiznis/pressledger/internal/statement"
	"github.com/smallbiznis/pressledger/pkg/db"
	"go.uber.org/fx"
)

// The monolith serves the API and runs the statement scheduler in one
// process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lease.Module,

		// Functional Domains
		audit.Module,
		balance.Module,
		statement.Module,
		ledger.Module,
		customer.Module,
		invoice.Module,
		allocation.Module,
		payment.Module,
		reconciliation.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
