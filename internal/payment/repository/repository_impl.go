package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, customer_id, amount, method, status, reference,
	overpayment_amount, refund_amount, failure_reason, metadata, received_at,
	completed_at, allocated_at, failed_at, refunded_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.CustomerID,
		payment.Amount,
		payment.Method,
		payment.Status,
		payment.Reference,
		payment.OverpaymentAmount,
		payment.RefundAmount,
		payment.FailureReason,
		payment.Metadata,
		payment.ReceivedAt,
		payment.CompletedAt,
		payment.AllocatedAt,
		payment.FailedAt,
		payment.RefundedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
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
	if err := stmt.Order("id desc").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return r.exec(ctx, db,
		`UPDATE payments SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PaymentStatusCompleted,
		at,
		at,
		id,
		domain.PaymentStatusPending,
	)
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason *string, at time.Time) error {
	return r.exec(ctx, db,
		`UPDATE payments SET status = ?, failure_reason = ?, failed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PaymentStatusFailed,
		reason,
		at,
		at,
		id,
		domain.PaymentStatusPending,
	)
}

// MarkAllocated writes the overpayment remainder exactly once.
func (r *repo) MarkAllocated(ctx context.Context, db *gorm.DB, id snowflake.ID, overpayment int64, at time.Time) error {
	return r.exec(ctx, db,
		`UPDATE payments SET overpayment_amount = ?, allocated_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND allocated_at IS NULL`,
		overpayment,
		at,
		at,
		id,
		domain.PaymentStatusCompleted,
	)
}

func (r *repo) ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundAmount int64, status domain.PaymentStatus, at time.Time) error {
	return r.exec(ctx, db,
		`UPDATE payments SET refund_amount = ?, status = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ? AND overpayment_amount >= ?`,
		refundAmount,
		status,
		at,
		at,
		id,
		refundAmount,
	)
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
