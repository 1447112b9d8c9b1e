package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	"github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateValidatesAmounts(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Validation")

	_, err := env.Invoices.Create(ctx, domain.CreateInvoiceRequest{CustomerID: customer.ID, Subtotal: -1})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.Invoices.Create(ctx, domain.CreateInvoiceRequest{CustomerID: customer.ID, Subtotal: 500, DiscountAmount: 500})
	require.ErrorIs(t, err, domain.ErrInvalidTotal)

	_, err = env.Invoices.Create(ctx, domain.CreateInvoiceRequest{CustomerID: customer.ID + 1, Subtotal: 500})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	draft, err := env.Invoices.Create(ctx, domain.CreateInvoiceRequest{
		CustomerID:     customer.ID,
		JobReference:   "  JOB-77  ",
		Subtotal:       10000,
		TaxAmount:      800,
		DiscountAmount: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusDraft, draft.Status)
	assert.Equal(t, int64(10500), draft.Total)
	require.NotNil(t, draft.JobReference)
	assert.Equal(t, "JOB-77", *draft.JobReference)
	assert.Nil(t, draft.InvoiceNumber)
}

func TestFinalizePostsChargeAndNumbersInvoice(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Finalize")

	first := env.SentInvoice(t, customer.ID, 15000)
	assert.Equal(t, domain.InvoiceStatusSent, first.Status)
	require.NotNil(t, first.InvoiceNumber)
	assert.Equal(t, "INV-202603-000001", *first.InvoiceNumber)
	require.NotNil(t, first.DueAt)
	assert.True(t, first.DueAt.Equal(testutil.Epoch.Add(30*24*time.Hour)))

	second := env.SentInvoice(t, customer.ID, 5000)
	assert.Equal(t, "INV-202603-000002", *second.InvoiceNumber)

	_, err := env.Invoices.Finalize(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrInvoiceNotDraft)

	resp, err := env.Ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{CustomerID: customer.ID})
	require.NoError(t, err)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, ledgerdomain.TransactionTypeCharge, resp.Transactions[0].TransactionType)
	require.NotNil(t, resp.Transactions[0].InvoiceID)
	assert.Equal(t, first.ID, *resp.Transactions[0].InvoiceID)
	assert.Equal(t, "Invoice INV-202603-000001", resp.Transactions[0].Description)

	balance := env.BalanceOf(t, customer.ID)
	assert.Equal(t, int64(20000), balance.CurrentBalance)
	assert.Equal(t, int64(2), balance.OutstandingInvoices)
}

func TestInvoiceNumbersAreSharedAcrossCustomers(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	first := env.Customer(t, "Numbering One")
	second := env.Customer(t, "Numbering Two")

	a := env.SentInvoice(t, first.ID, 1000)
	b := env.SentInvoice(t, second.ID, 2000)
	c := env.SentInvoice(t, first.ID, 3000)
	assert.Equal(t, "INV-202603-000001", *a.InvoiceNumber)
	assert.Equal(t, "INV-202603-000002", *b.InvoiceNumber)
	assert.Equal(t, "INV-202603-000003", *c.InvoiceNumber)

	// Refinalizing is rejected before a number is claimed.
	_, err := env.Invoices.Finalize(ctx, b.ID)
	require.ErrorIs(t, err, domain.ErrInvoiceNotDraft)

	var last int64
	require.NoError(t, env.DB.Raw(
		`SELECT last_value FROM invoice_number_counters WHERE name = ?`, domain.InvoiceNumberCounter,
	).Scan(&last).Error)
	assert.Equal(t, int64(3), last)

	d := env.SentInvoice(t, second.ID, 4000)
	assert.Equal(t, "INV-202603-000004", *d.InvoiceNumber)
}

func TestCancelDraftPostsNothing(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Cancel Draft")

	draft, err := env.Invoices.Create(ctx, domain.CreateInvoiceRequest{CustomerID: customer.ID, Subtotal: 900})
	require.NoError(t, err)

	cancelled, err := env.Invoices.Cancel(ctx, draft.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, cancelled.Status)

	resp, err := env.Ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{CustomerID: customer.ID})
	require.NoError(t, err)
	assert.Empty(t, resp.Transactions)
}

func TestCancelSentInvoiceReversesCharge(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Cancel Sent")
	sent := env.SentInvoice(t, customer.ID, 6400)

	env.Clock.Advance(time.Hour)
	cancelled, err := env.Invoices.Cancel(ctx, sent.ID, "reprint")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, cancelled.Status)

	resp, err := env.Ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{CustomerID: customer.ID})
	require.NoError(t, err)
	require.Len(t, resp.Transactions, 2)
	reversal := resp.Transactions[1]
	assert.Equal(t, ledgerdomain.TransactionTypeAdjustment, reversal.TransactionType)
	assert.Equal(t, int64(-6400), reversal.Amount)
	assert.Zero(t, reversal.RunningBalance)
	assert.Contains(t, reversal.Description, "reprint")

	balance := env.BalanceOf(t, customer.ID)
	assert.Zero(t, balance.CurrentBalance)
	assert.Zero(t, balance.OutstandingInvoices)

	_, err = env.Invoices.Cancel(ctx, sent.ID, "")
	require.ErrorIs(t, err, domain.ErrInvoiceNotCancellable)
}

func TestCancelRejectsPartiallyPaidInvoice(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Part Paid")
	sent := env.SentInvoice(t, customer.ID, 10000)
	env.CompletedPayment(t, customer.ID, 4000)

	_, err := env.Invoices.Cancel(ctx, sent.ID, "")
	require.ErrorIs(t, err, domain.ErrInvoiceNotCancellable)

	current, err := env.Invoices.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPartial, current.Status)
	assert.Equal(t, int64(4000), current.AmountPaid)
}

func TestMarkOverdue(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Overdue")

	due := env.SentInvoice(t, customer.ID, 3000)
	paid := env.SentInvoice(t, customer.ID, 2000)
	env.CompletedPayment(t, customer.ID, 2000, allocationTarget(paid.ID))

	env.Clock.Advance(31 * 24 * time.Hour)
	updated, err := env.Invoices.MarkOverdue(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	current, err := env.Invoices.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOverdue, current.Status)

	settled, err := env.Invoices.GetByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, settled.Status)
	require.NotNil(t, settled.PaidAt)

	again, err := env.Invoices.MarkOverdue(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestListFiltersByStatus(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Listing")

	env.SentInvoice(t, customer.ID, 1000)
	_, err := env.Invoices.Create(ctx, domain.CreateInvoiceRequest{CustomerID: customer.ID, Subtotal: 2000})
	require.NoError(t, err)

	drafts, err := env.Invoices.List(ctx, domain.ListInvoiceRequest{CustomerID: customer.ID, Status: "DRAFT"})
	require.NoError(t, err)
	require.Len(t, drafts.Invoices, 1)
	assert.Equal(t, int64(2000), drafts.Invoices[0].Total)

	_, err = env.Invoices.List(ctx, domain.ListInvoiceRequest{CustomerID: customer.ID, Status: "lost"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func allocationTarget(invoiceID snowflake.ID) allocationdomain.Target {
	return allocationdomain.Target{InvoiceID: invoiceID}
}
