package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/allocation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const allocationColumns = `id, payment_id, invoice_id, customer_id, allocated_amount, ledger_transaction_id, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, allocation *domain.PaymentAllocation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_allocations (`+allocationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		allocation.ID,
		allocation.PaymentID,
		allocation.InvoiceID,
		allocation.CustomerID,
		allocation.AllocatedAmount,
		allocation.LedgerTransactionID,
		allocation.CreatedAt,
	).Error
}

func (r *repo) ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.PaymentAllocation, error) {
	var items []domain.PaymentAllocation
	err := db.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+` FROM payment_allocations WHERE payment_id = ? ORDER BY id ASC`,
		paymentID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.PaymentAllocation, error) {
	var items []domain.PaymentAllocation
	err := db.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+` FROM payment_allocations WHERE invoice_id = ? ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) SumByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(allocated_amount), 0) FROM payment_allocations WHERE invoice_id = ?`,
		invoiceID,
	).Scan(&total).Error
	return total, err
}
