package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/allocation/domain"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(v int64) *int64 { return &v }

func TestFIFOAllocationPaysOldestFirst(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "FIFO")

	oldest := env.SentInvoice(t, customer.ID, 3000)
	env.Clock.Advance(24 * time.Hour)
	middle := env.SentInvoice(t, customer.ID, 4000)
	env.Clock.Advance(24 * time.Hour)
	newest := env.SentInvoice(t, customer.ID, 5000)

	resp := env.CompletedPayment(t, customer.ID, 6000)
	result := resp.Allocation
	assert.Equal(t, domain.AllocationModeFIFO, result.Mode)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, oldest.ID, result.Allocations[0].InvoiceID)
	assert.Equal(t, int64(3000), result.Allocations[0].AllocatedAmount)
	assert.Equal(t, middle.ID, result.Allocations[1].InvoiceID)
	assert.Equal(t, int64(3000), result.Allocations[1].AllocatedAmount)
	assert.Zero(t, result.OverpaymentAmount)
	assert.Nil(t, result.CreditTransactionID)

	assertInvoice(t, env, oldest.ID, invoicedomain.InvoiceStatusPaid, 3000)
	assertInvoice(t, env, middle.ID, invoicedomain.InvoiceStatusPartial, 3000)
	assertInvoice(t, env, newest.ID, invoicedomain.InvoiceStatusSent, 0)

	balance := env.BalanceOf(t, customer.ID)
	assert.Equal(t, int64(6000), balance.CurrentBalance)
	assert.Equal(t, int64(2), balance.OutstandingInvoices)

	byInvoice, err := env.Allocation.ListByInvoice(ctx, middle.ID)
	require.NoError(t, err)
	require.Len(t, byInvoice, 1)
	assert.Equal(t, resp.Payment.ID, byInvoice[0].PaymentID)
}

func TestAllocationPostsOneRowPerInvoice(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Rows")

	first := env.SentInvoice(t, customer.ID, 1000)
	second := env.SentInvoice(t, customer.ID, 2000)
	resp := env.CompletedPayment(t, customer.ID, 3000)

	rows, err := env.Ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{CustomerID: customer.ID, Type: "payment"})
	require.NoError(t, err)
	require.Len(t, rows.Transactions, 2)
	for i, invoice := range []invoicedomain.Invoice{first, second} {
		row := rows.Transactions[i]
		assert.Equal(t, -invoice.Total, row.Amount)
		require.NotNil(t, row.InvoiceID)
		assert.Equal(t, invoice.ID, *row.InvoiceID)
		require.NotNil(t, row.PaymentID)
		assert.Equal(t, resp.Payment.ID, *row.PaymentID)
		require.NotNil(t, row.AllocationID)
		assert.Equal(t, resp.Allocation.Allocations[i].ID, *row.AllocationID)
		assert.Equal(t, row.ID, resp.Allocation.Allocations[i].LedgerTransactionID)
	}
	assert.Zero(t, env.BalanceOf(t, customer.ID).CurrentBalance)
}

func TestOverpaymentBecomesCredit(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Overpaid")

	invoice := env.SentInvoice(t, customer.ID, 2500)
	resp := env.CompletedPayment(t, customer.ID, 4000)

	assert.Equal(t, int64(1500), resp.Allocation.OverpaymentAmount)
	require.NotNil(t, resp.Allocation.CreditTransactionID)
	assert.Equal(t, int64(1500), resp.Payment.OverpaymentAmount)
	assert.NotNil(t, resp.Payment.AllocatedAt)
	assertInvoice(t, env, invoice.ID, invoicedomain.InvoiceStatusPaid, 2500)

	credits, err := env.Ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{CustomerID: customer.ID, Type: "credit"})
	require.NoError(t, err)
	require.Len(t, credits.Transactions, 1)
	assert.Equal(t, int64(-1500), credits.Transactions[0].Amount)
	assert.Equal(t, *resp.Allocation.CreditTransactionID, credits.Transactions[0].ID)

	balance := env.BalanceOf(t, customer.ID)
	assert.Equal(t, int64(-1500), balance.CurrentBalance)
	assert.Zero(t, balance.CreditUsed)
}

func TestPaymentWithNoOpenInvoicesIsAllCredit(t *testing.T) {
	env := testutil.New(t)
	customer := env.Customer(t, "Prepaid")

	resp := env.CompletedPayment(t, customer.ID, 1200)
	assert.Empty(t, resp.Allocation.Allocations)
	assert.Equal(t, int64(1200), resp.Allocation.OverpaymentAmount)
	assert.Equal(t, int64(-1200), env.BalanceOf(t, customer.ID).CurrentBalance)
}

func TestExplicitAllocationFollowsTargets(t *testing.T) {
	env := testutil.New(t)
	customer := env.Customer(t, "Explicit")

	first := env.SentInvoice(t, customer.ID, 3000)
	second := env.SentInvoice(t, customer.ID, 5000)

	resp := env.CompletedPayment(t, customer.ID, 6000,
		domain.Target{InvoiceID: second.ID, Amount: amount(4000)},
		domain.Target{InvoiceID: first.ID},
	)
	result := resp.Allocation
	assert.Equal(t, domain.AllocationModeExplicit, result.Mode)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, second.ID, result.Allocations[0].InvoiceID)
	assert.Equal(t, int64(4000), result.Allocations[0].AllocatedAmount)
	assert.Equal(t, first.ID, result.Allocations[1].InvoiceID)
	assert.Equal(t, int64(2000), result.Allocations[1].AllocatedAmount)
	assert.Zero(t, result.OverpaymentAmount)

	assertInvoice(t, env, first.ID, invoicedomain.InvoiceStatusPartial, 2000)
	assertInvoice(t, env, second.ID, invoicedomain.InvoiceStatusPartial, 4000)
}

func TestExplicitAllocationValidatesBeforeWriting(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Strict")
	stranger := env.Customer(t, "Stranger")

	first := env.SentInvoice(t, customer.ID, 3000)
	second := env.SentInvoice(t, customer.ID, 2000)
	foreign := env.SentInvoice(t, stranger.ID, 1000)
	draft, err := env.Invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{CustomerID: customer.ID, Subtotal: 700})
	require.NoError(t, err)

	cases := []struct {
		name    string
		targets []domain.Target
		want    error
	}{
		{"exceeds due", []domain.Target{{InvoiceID: first.ID, Amount: amount(3001)}}, domain.ErrAllocationExceedsDue},
		{"exceeds payment", []domain.Target{{InvoiceID: first.ID, Amount: amount(2500)}, {InvoiceID: second.ID, Amount: amount(2000)}}, domain.ErrAllocationExceedsPayment},
		{"duplicate", []domain.Target{{InvoiceID: first.ID, Amount: amount(100)}, {InvoiceID: first.ID, Amount: amount(100)}}, domain.ErrDuplicateTarget},
		{"other customer", []domain.Target{{InvoiceID: first.ID, Amount: amount(100)}, {InvoiceID: foreign.ID}}, domain.ErrInvoiceCustomerMismatch},
		{"draft", []domain.Target{{InvoiceID: draft.ID}}, domain.ErrInvoiceNotPayable},
		{"missing", []domain.Target{{InvoiceID: env.GenID.Generate()}}, domain.ErrInvoiceNotFound},
		{"zero amount", []domain.Target{{InvoiceID: first.ID, Amount: amount(0)}}, domain.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payment, err := env.Payments.Record(ctx, paymentdomain.RecordPaymentRequest{
				CustomerID: customer.ID,
				Amount:     4000,
				Method:     "card",
			})
			require.NoError(t, err)

			_, err = env.Payments.Complete(ctx, payment.ID, tc.targets)
			require.ErrorIs(t, err, tc.want)

			// The whole completion rolled back.
			reloaded, err := env.Payments.GetByID(ctx, payment.ID)
			require.NoError(t, err)
			assert.Equal(t, paymentdomain.PaymentStatusPending, reloaded.Status)
			assert.Nil(t, reloaded.AllocatedAt)
		})
	}

	assertInvoice(t, env, first.ID, invoicedomain.InvoiceStatusSent, 0)
	assertInvoice(t, env, second.ID, invoicedomain.InvoiceStatusSent, 0)
	assert.Equal(t, int64(5000), env.BalanceOf(t, customer.ID).CurrentBalance)
}

func TestAllocateRejectsPendingAndRepeatedPayments(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Once Only")
	env.SentInvoice(t, customer.ID, 1000)

	pending, err := env.Payments.Record(ctx, paymentdomain.RecordPaymentRequest{CustomerID: customer.ID, Amount: 500, Method: "cash"})
	require.NoError(t, err)
	_, err = env.Allocation.Allocate(ctx, pending.ID, nil)
	require.ErrorIs(t, err, domain.ErrPaymentNotCompleted)

	done := env.CompletedPayment(t, customer.ID, 500)
	_, err = env.Allocation.Allocate(ctx, done.Payment.ID, nil)
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyAllocated)
}

func assertInvoice(t *testing.T, env *testutil.Env, id snowflake.ID, status invoicedomain.InvoiceStatus, paid int64) {
	t.Helper()
	invoice, err := env.Invoices.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, status, invoice.Status)
	assert.Equal(t, paid, invoice.AmountPaid)
}
