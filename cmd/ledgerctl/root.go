package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/audit"
	"github.com/smallbiznis/pressledger/internal/balance"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/config"
	"github.com/smallbiznis/pressledger/internal/invoice"
	"github.com/smallbiznis/pressledger/internal/ledger"
	"github.com/smallbiznis/pressledger/internal/observability"
	"github.com/smallbiznis/pressledger/internal/reconciliation"
	"github.com/smallbiznis/pressledger/internal/statement"
	"github.com/smallbiznis/pressledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var version = "0.1.0"

const startTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator tooling for the customer ledger",
	Long: `ledgerctl runs ledger maintenance against the configured database.

It reads the same environment (and .env file) as the API server, so point
DATABASE_* at the database you want to inspect before running it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// infraOptions is the minimum graph for talking to the database.
func infraOptions() []fx.Option {
	return []fx.Option{
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
	}
}

// ledgerOptions adds the services that read and write the ledger. A zero
// asOf runs on the wall clock.
func ledgerOptions(asOf time.Time) []fx.Option {
	provideClock := fx.Provide(clock.New)
	if !asOf.IsZero() {
		provideClock = fx.Provide(func() clock.Clock { return clock.Fixed(asOf) })
	}
	return append(infraOptions(),
		provideClock,
		audit.Module,
		balance.Module,
		statement.Module,
		ledger.Module,
		invoice.Module,
		reconciliation.Module,
	)
}

// runApp starts an fx graph, runs fn and stops the graph again.
func runApp(ctx context.Context, opts []fx.Option, fn func(context.Context) error) error {
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

func parseCustomerID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid customer id %q", raw)
	}
	return id, nil
}

func parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q, use RFC3339 or YYYY-MM-DD", raw)
	}
	return t.UTC(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
