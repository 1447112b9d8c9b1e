package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func day(month time.Month, d int) time.Time {
	return time.Date(2026, month, d, 0, 0, 0, 0, time.UTC)
}

func TestCloseCurrentPeriodSealsTotals(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Closer")

	env.Clock.Set(day(time.March, 12))
	_, err := env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypeCharge, Amount: 12000})
	require.NoError(t, err)
	env.Clock.Set(day(time.March, 14))
	_, err = env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypePayment, Amount: 2000})
	require.NoError(t, err)
	_, err = env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypeAdjustment, Amount: -500})
	require.NoError(t, err)

	env.Clock.Set(day(time.March, 20))
	closed, err := env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 18))
	require.NoError(t, err)

	assert.False(t, closed.IsCurrentPeriod)
	assert.True(t, closed.IsClosed())
	assert.True(t, closed.PeriodEnd.Equal(day(time.March, 18)))
	assert.Equal(t, int64(12000), closed.TotalCharges)
	assert.Equal(t, int64(2000), closed.TotalPayments)
	assert.Equal(t, int64(-500), closed.TotalAdjustments)
	require.NotNil(t, closed.ClosingBalance)
	assert.Equal(t, int64(9500), *closed.ClosingBalance)
	assert.Equal(t, closed.ClosingIdentity(), *closed.ClosingBalance)

	_, err = env.Statements.GetCurrent(ctx, customer.ID)
	require.ErrorIs(t, err, domain.ErrNoOpenPeriod)

	var audits int64
	require.NoError(t, env.DB.Raw(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, "statement.period_closed").Scan(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestCloseCurrentPeriodIsIdempotent(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Retry Close")

	env.Clock.Set(day(time.March, 20))
	first, err := env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 15))
	require.NoError(t, err)

	again, err := env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = env.Statements.OpenNextPeriod(ctx, customer.ID, day(time.March, 15))
	require.NoError(t, err)

	third, err := env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	periods, err := env.Statements.List(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)
}

func TestCloseCurrentPeriodValidatesAsOf(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Bad Cutoff")
	env.Clock.Set(day(time.March, 20))

	_, err := env.Statements.CloseCurrentPeriod(ctx, customer.ID, time.Time{})
	require.ErrorIs(t, err, domain.ErrInvalidAsOf)

	// After now.
	_, err = env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 25))
	require.ErrorIs(t, err, domain.ErrInvalidAsOf)

	// Not after the period start.
	_, err = env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 1))
	require.ErrorIs(t, err, domain.ErrInvalidAsOf)

	current, err := env.Statements.GetCurrent(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, current.IsCurrentPeriod)
}

func TestCloseCurrentPeriodRejectsRowsAfterCutoff(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Late Rows")

	env.Clock.Set(day(time.March, 15))
	_, err := env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypeCharge, Amount: 700})
	require.NoError(t, err)

	env.Clock.Set(day(time.March, 20))
	_, err = env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 12))
	require.ErrorIs(t, err, domain.ErrTransactionsAfterCutoff)
}

func TestCloseCurrentPeriodReportsMismatch(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Mismatch")

	env.Clock.Set(day(time.March, 12))
	posted, err := env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypeCharge, Amount: 3000})
	require.NoError(t, err)
	require.NoError(t, env.DB.Exec(`UPDATE statement_periods SET opening_balance = ? WHERE customer_id = ?`, 50, customer.ID).Error)

	env.Clock.Set(day(time.March, 20))
	_, err = env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 18))
	require.ErrorIs(t, err, domain.ErrClosingBalanceMismatch)

	var mismatch *domain.ClosingBalanceMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(3050), mismatch.Computed)
	assert.Equal(t, int64(3000), mismatch.LedgerBalance)
	assert.Equal(t, posted.ID, mismatch.LastTransactionID)

	current, err := env.Statements.GetCurrent(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, current.ClosingBalance)
}

func TestOpenNextPeriodChecksContiguity(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Contiguous")

	env.Clock.Set(day(time.March, 12))
	_, err := env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypeCharge, Amount: 4200})
	require.NoError(t, err)

	env.Clock.Set(day(time.March, 20))
	_, err = env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 18))
	require.NoError(t, err)

	_, err = env.Statements.OpenNextPeriod(ctx, customer.ID, day(time.March, 19))
	require.ErrorIs(t, err, domain.ErrPeriodNotContiguous)

	opened, err := env.Statements.OpenNextPeriod(ctx, customer.ID, day(time.March, 18))
	require.NoError(t, err)
	assert.True(t, opened.IsCurrentPeriod)
	assert.Equal(t, int64(4200), opened.OpeningBalance)
	assert.True(t, opened.PeriodStart.Equal(day(time.March, 18)))
	assert.True(t, opened.PeriodEnd.Equal(day(time.April, 1)))

	same, err := env.Statements.OpenNextPeriod(ctx, customer.ID, day(time.March, 18))
	require.NoError(t, err)
	assert.Equal(t, opened.ID, same.ID)

	_, err = env.Statements.OpenNextPeriod(ctx, customer.ID, day(time.March, 19))
	require.ErrorIs(t, err, domain.ErrPeriodAlreadyOpen)
}

func TestStatementTxOperationsRequireLock(t *testing.T) {
	env := testutil.New(t)
	customer := env.Customer(t, "Unlocked")

	err := env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := env.Statements.CloseCurrentPeriodTx(context.Background(), tx, customer.ID, day(time.March, 11))
		return err
	})
	require.ErrorIs(t, err, balancedomain.ErrLockNotHeld)

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := env.Statements.EnsureCurrentPeriodTx(context.Background(), tx, customer.ID, day(time.March, 11))
		return err
	})
	require.ErrorIs(t, err, balancedomain.ErrLockNotHeld)
}

func TestRolloverClosesEveryElapsedPeriod(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Quiet Quarter")

	env.Clock.Set(day(time.March, 12))
	_, err := env.Ledger.Post(ctx, ledgerdomain.PostRequest{CustomerID: customer.ID, Type: ledgerdomain.TransactionTypeCharge, Amount: 9900})
	require.NoError(t, err)

	env.Clock.Set(time.Date(2026, time.June, 2, 8, 0, 0, 0, time.UTC))
	result, err := env.Statements.Rollover(ctx, customer.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Closed, 3)
	assert.True(t, result.Current.PeriodStart.Equal(day(time.June, 1)))
	assert.Equal(t, int64(9900), result.Current.OpeningBalance)

	for i, period := range result.Closed {
		require.NotNil(t, period.ClosingBalance)
		assert.Equal(t, int64(9900), *period.ClosingBalance)
		if i > 0 {
			assert.True(t, period.PeriodStart.Equal(result.Closed[i-1].PeriodEnd))
		}
	}

	again, err := env.Statements.Rollover(ctx, customer.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, again.Closed)
	assert.Equal(t, result.Current.ID, again.Current.ID)

	_, err = env.Statements.Rollover(ctx, customer.ID, day(time.July, 1))
	require.ErrorIs(t, err, domain.ErrInvalidAsOf)

	var audits int64
	require.NoError(t, env.DB.Raw(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, "statement.period_closed").Scan(&audits).Error)
	assert.Equal(t, int64(3), audits)
}

func TestWeeklyCycleBoundaries(t *testing.T) {
	env := testutil.New(t, testutil.WithCycle("weekly"))
	ctx := context.Background()
	customer := env.Customer(t, "Weekly")

	current, err := env.Statements.GetCurrent(ctx, customer.ID)
	require.NoError(t, err)
	// 2026-03-10 is a Tuesday; the next Monday is the 16th.
	assert.True(t, current.PeriodEnd.Equal(day(time.March, 16)))
}

func TestGetStatementAgesOutstandingInvoices(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Aged")

	onTime := env.SentInvoice(t, customer.ID, 20000)

	pastDue := day(time.March, 1)
	draft, err := env.Invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Subtotal:   10000,
		DueAt:      &pastDue,
	})
	require.NoError(t, err)
	late, err := env.Invoices.Finalize(ctx, draft.ID)
	require.NoError(t, err)

	env.Clock.Set(day(time.March, 20))
	current, err := env.Statements.GetCurrent(ctx, customer.ID)
	require.NoError(t, err)

	stmt, err := env.Statements.GetStatement(ctx, customer.ID, current.ID)
	require.NoError(t, err)
	assert.Len(t, stmt.Transactions, 2)
	assert.Equal(t, "USD", stmt.Summary.Currency)
	assert.Equal(t, "0.00", stmt.Summary.OpeningBalance)
	assert.Equal(t, "300.00", stmt.Summary.TotalCharges)
	assert.Equal(t, "300.00", stmt.Summary.ClosingBalance)

	buckets := map[string][]int64{}
	for _, line := range stmt.Aging {
		for _, id := range line.InvoiceIDs {
			buckets[line.Bucket] = append(buckets[line.Bucket], int64(id))
		}
	}
	assert.Equal(t, []int64{int64(onTime.ID)}, buckets["current"])
	assert.Equal(t, []int64{int64(late.ID)}, buckets["1-30"])

	_, err = env.Statements.GetStatement(ctx, customer.ID+1, current.ID)
	require.ErrorIs(t, err, domain.ErrPeriodNotFound)
}

func TestClosedStatementAgesOnlyInvoicesIssuedInTime(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Aged Close")

	before := env.SentInvoice(t, customer.ID, 5000)

	env.Clock.Set(day(time.March, 20))
	closed, err := env.Statements.CloseCurrentPeriod(ctx, customer.ID, day(time.March, 18))
	require.NoError(t, err)

	env.Clock.Set(day(time.March, 21))
	after := env.SentInvoice(t, customer.ID, 7000)

	aged := func(stmt domain.Statement) []int64 {
		var ids []int64
		for _, line := range stmt.Aging {
			for _, id := range line.InvoiceIDs {
				ids = append(ids, int64(id))
			}
		}
		return ids
	}

	stmt, err := env.Statements.GetStatement(ctx, customer.ID, closed.ID)
	require.NoError(t, err)
	assert.True(t, stmt.AgingAsOf.Equal(day(time.March, 18)))
	assert.Equal(t, []int64{int64(before.ID)}, aged(stmt))

	current, err := env.Statements.GetCurrent(ctx, customer.ID)
	require.NoError(t, err)
	stmt, err = env.Statements.GetStatement(ctx, customer.ID, current.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{int64(before.ID), int64(after.ID)}, aged(stmt))
}
