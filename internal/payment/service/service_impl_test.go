package service_test

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/payment/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidatesInput(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Recorder")

	_, err := env.Payments.Record(ctx, domain.RecordPaymentRequest{CustomerID: customer.ID, Amount: 0, Method: "cash"})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.Payments.Record(ctx, domain.RecordPaymentRequest{CustomerID: customer.ID, Amount: 100, Method: "barter"})
	require.ErrorIs(t, err, domain.ErrInvalidMethod)

	_, err = env.Payments.Record(ctx, domain.RecordPaymentRequest{CustomerID: env.GenID.Generate(), Amount: 100, Method: "cash"})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	payment, err := env.Payments.Record(ctx, domain.RecordPaymentRequest{
		CustomerID: customer.ID,
		Amount:     100,
		Method:     " Bank_Transfer ",
		Reference:  "WIRE-20260310-9981",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, domain.PaymentMethodBankTransfer, payment.Method)
	assert.True(t, payment.ReceivedAt.Equal(testutil.Epoch))

	// Recording alone never touches the ledger.
	assert.Zero(t, env.BalanceOf(t, customer.ID).CurrentBalance)
}

func TestCompleteAllocatesOnce(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Completer")
	env.SentInvoice(t, customer.ID, 2000)

	resp := env.CompletedPayment(t, customer.ID, 2000)
	assert.Equal(t, domain.PaymentStatusCompleted, resp.Payment.Status)
	require.NotNil(t, resp.Payment.CompletedAt)
	require.NotNil(t, resp.Payment.AllocatedAt)
	assert.Equal(t, int64(2000), resp.Allocation.AllocatedTotal())

	_, err := env.Payments.Complete(ctx, resp.Payment.ID, nil)
	require.ErrorIs(t, err, domain.ErrPaymentNotPending)

	rows, err := env.Ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{CustomerID: customer.ID, Type: "payment"})
	require.NoError(t, err)
	assert.Len(t, rows.Transactions, 1)
}

func TestFailLeavesLedgerUntouched(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Bounced")

	payment, err := env.Payments.Record(ctx, domain.RecordPaymentRequest{CustomerID: customer.ID, Amount: 800, Method: "cheque"})
	require.NoError(t, err)

	failed, err := env.Payments.Fail(ctx, payment.ID, "insufficient funds")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "insufficient funds", *failed.FailureReason)

	_, err = env.Payments.Complete(ctx, payment.ID, nil)
	require.ErrorIs(t, err, domain.ErrPaymentNotPending)

	_, err = env.Payments.Fail(ctx, payment.ID, "")
	require.ErrorIs(t, err, domain.ErrPaymentNotPending)
}

func TestRefundOverpayment(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Refunded")
	env.SentInvoice(t, customer.ID, 1000)

	resp := env.CompletedPayment(t, customer.ID, 1600)
	require.Equal(t, int64(600), resp.Payment.OverpaymentAmount)

	_, err := env.Payments.RefundOverpayment(ctx, resp.Payment.ID, 700)
	require.ErrorIs(t, err, domain.ErrRefundExceedsOverpayment)

	refund, err := env.Payments.RefundOverpayment(ctx, resp.Payment.ID, 400)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.TransactionTypeAdjustment, refund.Transaction.TransactionType)
	assert.Equal(t, int64(400), refund.Transaction.Amount)
	assert.Equal(t, int64(-200), refund.Transaction.RunningBalance)
	assert.Equal(t, int64(400), refund.Payment.RefundAmount)
	assert.Equal(t, domain.PaymentStatusCompleted, refund.Payment.Status)

	_, err = env.Payments.RefundOverpayment(ctx, resp.Payment.ID, 201)
	require.ErrorIs(t, err, domain.ErrRefundExceedsOverpayment)

	_, err = env.Payments.RefundOverpayment(ctx, resp.Payment.ID, 200)
	require.NoError(t, err)
	assert.Zero(t, env.BalanceOf(t, customer.ID).CurrentBalance)
}

func TestRefundOfUnappliedPaymentMarksRefunded(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Deposit")

	resp := env.CompletedPayment(t, customer.ID, 900)
	refund, err := env.Payments.RefundOverpayment(ctx, resp.Payment.ID, 900)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, refund.Payment.Status)

	pending, err := env.Payments.Record(ctx, domain.RecordPaymentRequest{CustomerID: customer.ID, Amount: 50, Method: "cash"})
	require.NoError(t, err)
	_, err = env.Payments.RefundOverpayment(ctx, pending.ID, 10)
	require.ErrorIs(t, err, domain.ErrPaymentNotCompleted)
}

func TestCompletionAuditMasksReference(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Masked")

	payment, err := env.Payments.Record(ctx, domain.RecordPaymentRequest{
		CustomerID: customer.ID,
		Amount:     300,
		Method:     "card",
		Reference:  "CARD-4111111111111111",
	})
	require.NoError(t, err)
	_, err = env.Payments.Complete(auditdomain.ContextWithActor(ctx, auditdomain.ActorTypeOperator, "clerk-7"), payment.ID, nil)
	require.NoError(t, err)

	logs, err := env.Audit.List(ctx, auditdomain.ListAuditLogRequest{
		CustomerID: customer.ID.String(),
		Action:     "payment.completed",
	})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)

	entry := logs.AuditLogs[0]
	assert.Equal(t, string(auditdomain.ActorTypeOperator), entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "clerk-7", *entry.ActorID)
	assert.Equal(t, "CARD-****1111", entry.Metadata["reference"])
	assert.Equal(t, "3.00", entry.Metadata["amount"])
}
