package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, customer_id, invoice_number, number_seq, job_reference, status,
	subtotal, tax_amount, discount_amount, total, amount_paid,
	issued_at, due_at, paid_at, cancelled_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.CustomerID,
		invoice.InvoiceNumber,
		invoice.NumberSeq,
		invoice.JobReference,
		invoice.Status,
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.DiscountAmount,
		invoice.Total,
		invoice.AmountPaid,
		invoice.IssuedAt,
		invoice.DueAt,
		invoice.PaidAt,
		invoice.CancelledAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("id desc").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListOutstanding returns payable invoices oldest due first. Invoices without
// a due date sort last, then creation order breaks ties.
func (r *repo) ListOutstanding(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE customer_id = ? AND status IN ? AND total - amount_paid > 0
		 ORDER BY CASE WHEN due_at IS NULL THEN 1 ELSE 0 END ASC, due_at ASC, created_at ASC, id ASC`,
		customerID,
		domain.OutstandingStatuses,
	).Scan(&invoices).Error
	return invoices, err
}

func (r *repo) CountOutstanding(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invoices
		 WHERE customer_id = ? AND status IN ? AND total - amount_paid > 0`,
		customerID,
		domain.OutstandingStatuses,
	).Scan(&count).Error
	return count, err
}

// ClaimNumberSeq bumps the shared counter in its own short transaction, so
// the counter row is never held for the length of a finalize.
func (r *repo) ClaimNumberSeq(ctx context.Context, db *gorm.DB) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE invoice_number_counters SET last_value = last_value + 1 WHERE name = ?`,
			domain.InvoiceNumberCounter,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if err := tx.Exec(
				`INSERT INTO invoice_number_counters (name, last_value)
				 SELECT ?, COALESCE(MAX(number_seq), 0) + 1 FROM invoices`,
				domain.InvoiceNumberCounter,
			).Error; err != nil {
				return err
			}
		}
		return tx.Raw(
			`SELECT last_value FROM invoice_number_counters WHERE name = ?`,
			domain.InvoiceNumberCounter,
		).Scan(&next).Error
	})
	return next, err
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, number string, seq int64, issuedAt time.Time, dueAt *time.Time) error {
	return r.exec(ctx, db,
		`UPDATE invoices
		 SET status = ?, invoice_number = ?, number_seq = ?, issued_at = ?, due_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.InvoiceStatusSent,
		number,
		seq,
		issuedAt,
		dueAt,
		issuedAt,
		id,
		domain.InvoiceStatusDraft,
	)
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return r.exec(ctx, db,
		`UPDATE invoices
		 SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND amount_paid = 0`,
		domain.InvoiceStatusCancelled,
		at,
		at,
		id,
	)
}

func (r *repo) ApplyPayment(ctx context.Context, db *gorm.DB, update domain.PaymentUpdate) error {
	return r.exec(ctx, db,
		`UPDATE invoices
		 SET amount_paid = ?, status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND amount_paid <= ? AND total >= ?`,
		update.AmountPaid,
		update.Status,
		update.PaidAt,
		update.UpdatedAt,
		update.InvoiceID,
		update.AmountPaid,
		update.AmountPaid,
	)
}

func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE status IN ? AND due_at IS NOT NULL AND due_at < ? AND total - amount_paid > 0`,
		domain.InvoiceStatusOverdue,
		now,
		[]domain.InvoiceStatus{domain.InvoiceStatusSent, domain.InvoiceStatusPartial},
		now,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) exec(ctx context.Context, db *gorm.DB, query string, args ...any) error {
	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvalidStatus
	}
	return nil
}
