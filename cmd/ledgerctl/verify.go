package main

import (
	"context"
	"errors"
	"time"

	reconciliationdomain "github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var errDriftDetected = errors.New("ledger drift detected")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check cached balances and closed statements against the ledger",
	Long: `verify replays the ledger for one customer, or for every customer with
--all, and compares the result with the cached balance and the closed
statement periods. It exits non-zero when any drift is found.`,
	Example: `  ledgerctl verify --customer 1790000000000000000
  ledgerctl verify --all --batch-size 200`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("customer", "", "Customer id to verify")
	verifyCmd.Flags().Bool("all", false, "Verify every customer")
	verifyCmd.Flags().Int("batch-size", 100, "Customers loaded per page with --all")
}

func runVerify(cmd *cobra.Command, args []string) error {
	customer, _ := cmd.Flags().GetString("customer")
	all, _ := cmd.Flags().GetBool("all")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	if (customer == "") == !all {
		return errors.New("pass exactly one of --customer or --all")
	}
	if batchSize <= 0 {
		return errors.New("batch size must be positive")
	}

	var svc reconciliationdomain.Service
	opts := append(ledgerOptions(time.Time{}), fx.Populate(&svc))

	return runApp(cmd.Context(), opts, func(ctx context.Context) error {
		if all {
			result, err := svc.VerifyAll(ctx, batchSize)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Drifted > 0 || result.Failed > 0 {
				return errDriftDetected
			}
			return nil
		}

		id, err := parseCustomerID(customer)
		if err != nil {
			return err
		}
		report, err := svc.Verify(ctx, id)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.OK {
			return errDriftDetected
		}
		return nil
	})
}
