package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/statement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const periodColumns = `id, customer_id, period_start, period_end, opening_balance, closing_balance,
	total_charges, total_payments, total_adjustments, is_current_period,
	closed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, period *domain.StatementPeriod) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO statement_periods (`+periodColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		period.ID,
		period.CustomerID,
		period.PeriodStart,
		period.PeriodEnd,
		period.OpeningBalance,
		period.ClosingBalance,
		period.TotalCharges,
		period.TotalPayments,
		period.TotalAdjustments,
		period.IsCurrentPeriod,
		period.ClosedAt,
		period.CreatedAt,
		period.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.StatementPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM statement_periods WHERE id = ?`,
		id,
	)
}

func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.StatementPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM statement_periods
		 WHERE customer_id = ? AND is_current_period = ?
		 LIMIT 1`,
		customerID,
		true,
	)
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.StatementPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM statement_periods
		 WHERE customer_id = ?
		 ORDER BY period_start DESC
		 LIMIT 1`,
		customerID,
	)
}

func (r *repo) FindClosedEndingAt(ctx context.Context, db *gorm.DB, customerID snowflake.ID, end time.Time) (*domain.StatementPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM statement_periods
		 WHERE customer_id = ? AND period_end = ? AND is_current_period = ?
		 LIMIT 1`,
		customerID,
		end,
		false,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.StatementPeriod, error) {
	var period domain.StatementPeriod
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&period).Error; err != nil {
		return nil, err
	}
	if period.ID == 0 {
		return nil, nil
	}
	return &period, nil
}

// Close only touches the current row, so a closed period is never rewritten.
func (r *repo) Close(ctx context.Context, db *gorm.DB, update domain.CloseUpdate) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE statement_periods
		 SET period_end = ?, closing_balance = ?, total_charges = ?, total_payments = ?,
		     total_adjustments = ?, is_current_period = ?, closed_at = ?, updated_at = ?
		 WHERE id = ? AND is_current_period = ?`,
		update.PeriodEnd,
		update.ClosingBalance,
		update.TotalCharges,
		update.TotalPayments,
		update.TotalAdjustments,
		false,
		update.ClosedAt,
		update.ClosedAt,
		update.PeriodID,
		true,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNoOpenPeriod
	}
	return nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.StatementPeriod, error) {
	var periods []domain.StatementPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT `+periodColumns+` FROM statement_periods
		 WHERE customer_id = ?
		 ORDER BY period_start ASC`,
		customerID,
	).Scan(&periods).Error
	return periods, err
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.StatementPeriod, error) {
	var periods []domain.StatementPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT `+periodColumns+` FROM statement_periods
		 WHERE is_current_period = ? AND period_end <= ?
		 ORDER BY period_end ASC, id ASC
		 LIMIT ?`,
		true,
		now,
		limit,
	).Scan(&periods).Error
	return periods, err
}
