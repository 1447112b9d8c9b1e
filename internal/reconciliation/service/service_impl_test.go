package service_test

import (
	"context"
	"testing"
	"time"

	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyCustomer(t *testing.T, env *testutil.Env, name string) ledgerdomain.LedgerTransaction {
	t.Helper()
	ctx := context.Background()
	customer := env.Customer(t, name)

	env.SentInvoice(t, customer.ID, 12000)
	env.Clock.Advance(24 * time.Hour)
	env.SentInvoice(t, customer.ID, 3000)
	env.Clock.Advance(24 * time.Hour)
	env.CompletedPayment(t, customer.ID, 16000)

	env.Clock.Advance(40 * 24 * time.Hour)
	posted, err := env.Ledger.Post(ctx, ledgerdomain.PostRequest{
		CustomerID:  customer.ID,
		Type:        ledgerdomain.TransactionTypeAdjustment,
		Amount:      250,
		Description: "Late fee",
	})
	require.NoError(t, err)
	return posted
}

func TestVerifyConsistentLedger(t *testing.T) {
	env := testutil.New(t)
	last := busyCustomer(t, env, "Consistent")

	report, err := env.Reconciliation.Verify(context.Background(), last.CustomerID)
	require.NoError(t, err)
	assert.True(t, report.OK, "drifts: %v", report.Drifts)
	// Two charges, two payments, one credit and the fee.
	assert.Equal(t, 6, report.TransactionCount)
	assert.Equal(t, 2, report.PeriodCount)
	assert.Equal(t, int64(-750), report.ReplayedBalance)
	assert.Equal(t, report.ReplayedBalance, report.CachedBalance)
}

func TestVerifyReportsTampering(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	last := busyCustomer(t, env, "Tampered")

	require.NoError(t, env.DB.Exec(
		`UPDATE ledger_transactions SET running_balance = running_balance + 1 WHERE customer_id = ? AND sequence = ?`,
		last.CustomerID, 2,
	).Error)

	report, err := env.Reconciliation.Verify(ctx, last.CustomerID)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, domain.DriftRunningBalance, report.Drifts[0].Kind)

	_, err = env.Reconciliation.Verify(ctx, env.GenID.Generate())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = env.Reconciliation.Verify(ctx, 0)
	require.ErrorIs(t, err, domain.ErrInvalidCustomer)
}

func TestVerifyAllSweepsEveryAccount(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()

	clean := busyCustomer(t, env, "Clean Sweep")
	drifted := busyCustomer(t, env, "Drift Sweep")
	env.Customer(t, "Idle Sweep")

	require.NoError(t, env.DB.Exec(
		`UPDATE account_balances SET current_balance = ? WHERE customer_id = ?`, 1, drifted.CustomerID,
	).Error)

	result, err := env.Reconciliation.VerifyAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.Drifted)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, drifted.CustomerID, result.Reports[0].CustomerID)
	assert.NotEqual(t, clean.CustomerID, result.Reports[0].CustomerID)

	var kinds []domain.DriftKind
	for _, d := range result.Reports[0].Drifts {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []domain.DriftKind{domain.DriftCacheBalance}, kinds)
	require.NotNil(t, result.Reports[0].FirstDivergentTransactionID)
	assert.Equal(t, drifted.ID, *result.Reports[0].FirstDivergentTransactionID)
}
