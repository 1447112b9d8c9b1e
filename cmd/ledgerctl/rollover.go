package main

import (
	"context"
	"time"

	"github.com/smallbiznis/pressledger/internal/scheduler"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Close statement periods whose end has passed",
	Long: `rollover closes every due statement period and opens the next one. With
--customer only that customer is rolled over. --as-of replays the rollover
as if it ran at that instant.`,
	Example: `  ledgerctl rollover
  ledgerctl rollover --customer 1790000000000000000 --as-of 2026-04-01`,
	RunE: runRollover,
}

func init() {
	rootCmd.AddCommand(rolloverCmd)

	rolloverCmd.Flags().String("customer", "", "Only roll over this customer")
	rolloverCmd.Flags().String("as-of", "", "Instant to roll over at (RFC3339 or YYYY-MM-DD, default: now)")
}

func runRollover(cmd *cobra.Command, args []string) error {
	customer, _ := cmd.Flags().GetString("customer")
	asOfRaw, _ := cmd.Flags().GetString("as-of")

	asOf, err := parseAsOf(asOfRaw)
	if err != nil {
		return err
	}

	if customer != "" {
		id, err := parseCustomerID(customer)
		if err != nil {
			return err
		}

		var svc statementdomain.Service
		opts := append(ledgerOptions(asOf), fx.Populate(&svc))
		return runApp(cmd.Context(), opts, func(ctx context.Context) error {
			now := asOf
			if now.IsZero() {
				now = time.Now().UTC()
			}
			result, err := svc.Rollover(ctx, id, now)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	}

	var sched *scheduler.Scheduler
	opts := append(ledgerOptions(asOf),
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Populate(&sched),
	)
	return runApp(cmd.Context(), opts, func(ctx context.Context) error {
		return sched.StatementRolloverJob(ctx)
	})
}
