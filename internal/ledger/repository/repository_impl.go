package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const transactionColumns = `id, customer_id, sequence, transaction_type, amount, running_balance,
	invoice_id, payment_id, allocation_id, job_reference, description,
	statement_period_id, transaction_date, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.LedgerTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.CustomerID,
		txn.Sequence,
		txn.TransactionType,
		txn.Amount,
		txn.RunningBalance,
		txn.InvoiceID,
		txn.PaymentID,
		txn.AllocationID,
		txn.JobReference,
		txn.Description,
		txn.StatementPeriodID,
		txn.TransactionDate,
		txn.CreatedAt,
	).Error
}

func (r *repo) FindLast(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.LedgerTransaction, error) {
	return r.findOne(ctx, db,
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE customer_id = ?
		 ORDER BY sequence DESC
		 LIMIT 1`,
		customerID,
	)
}

func (r *repo) FindLastBefore(ctx context.Context, db *gorm.DB, customerID snowflake.ID, before time.Time) (*domain.LedgerTransaction, error) {
	return r.findOne(ctx, db,
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE customer_id = ? AND transaction_date < ?
		 ORDER BY sequence DESC
		 LIMIT 1`,
		customerID,
		before,
	)
}

func (r *repo) FindChargeByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.LedgerTransaction, error) {
	return r.findOne(ctx, db,
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE invoice_id = ? AND transaction_type = ?
		 LIMIT 1`,
		invoiceID,
		domain.TransactionTypeCharge,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.LedgerTransaction, error) {
	var txn domain.LedgerTransaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&txn).Error; err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) CountInPeriodFrom(ctx context.Context, db *gorm.DB, periodID snowflake.ID, from time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM ledger_transactions
		 WHERE statement_period_id = ? AND transaction_date >= ?`,
		periodID,
		from,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SumByPeriod(ctx context.Context, db *gorm.DB, periodID snowflake.ID) (domain.PeriodSums, error) {
	var sums domain.PeriodSums
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN transaction_type = 'charge' THEN amount ELSE 0 END), 0) AS charges,
			COALESCE(SUM(CASE WHEN transaction_type IN ('payment', 'credit') THEN -amount ELSE 0 END), 0) AS payments,
			COALESCE(SUM(CASE WHEN transaction_type = 'adjustment' THEN amount ELSE 0 END), 0) AS adjustments,
			COUNT(*) AS transaction_count
		 FROM ledger_transactions
		 WHERE statement_period_id = ?`,
		periodID,
	).Scan(&sums).Error
	return sums, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.LedgerTransaction, error) {
	var items []*domain.LedgerTransaction
	stmt := db.WithContext(ctx).
		Model(&domain.LedgerTransaction{}).
		Where("customer_id = ?", filter.CustomerID)
	if filter.Type != "" {
		stmt = stmt.Where("transaction_type = ?", filter.Type)
	}
	if filter.PeriodID != 0 {
		stmt = stmt.Where("statement_period_id = ?", filter.PeriodID)
	}
	if filter.AfterSequence > 0 {
		stmt = stmt.Where("sequence > ?", filter.AfterSequence)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("sequence asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, periodID snowflake.ID) ([]domain.LedgerTransaction, error) {
	var items []domain.LedgerTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE statement_period_id = ?
		 ORDER BY sequence ASC`,
		periodID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListAllByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.LedgerTransaction, error) {
	var items []domain.LedgerTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE customer_id = ?
		 ORDER BY sequence ASC`,
		customerID,
	).Scan(&items).Error
	return items, err
}
