package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/balance/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const balanceColumns = `customer_id, current_balance, credit_limit, credit_used,
	outstanding_invoices, last_transaction_date, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, balance *domain.AccountBalance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_balances (`+balanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		balance.CustomerID,
		balance.CurrentBalance,
		balance.CreditLimit,
		balance.CreditUsed,
		balance.OutstandingInvoices,
		balance.LastTransactionDate,
		balance.CreatedAt,
		balance.UpdatedAt,
	).Error
}

func (r *repo) FindByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.AccountBalance, error) {
	var balance domain.AccountBalance
	err := db.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+` FROM account_balances WHERE customer_id = ?`,
		customerID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.CustomerID == 0 {
		return nil, nil
	}
	return &balance, nil
}

// LockForUpdate takes the row lock through the query builder so dialects
// without row locks (sqlite) drop the clause instead of failing.
func (r *repo) LockForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.AccountBalance, error) {
	var balances []domain.AccountBalance
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).
		Limit(1).
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return nil, nil
	}
	return &balances[0], nil
}

func (r *repo) ApplyPosting(ctx context.Context, db *gorm.DB, posting domain.Posting) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE account_balances
		 SET current_balance = ?, credit_used = ?, outstanding_invoices = ?,
		     last_transaction_date = ?, updated_at = ?
		 WHERE customer_id = ?`,
		posting.CurrentBalance,
		domain.CreditUsedFor(posting.CurrentBalance),
		posting.OutstandingInvoices,
		posting.TransactionDate,
		posting.UpdatedAt,
		posting.CustomerID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *repo) UpdateCreditLimit(ctx context.Context, db *gorm.DB, customerID snowflake.ID, limit int64, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE account_balances SET credit_limit = ?, updated_at = ? WHERE customer_id = ?`,
		limit,
		now,
		customerID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *repo) ListCustomerIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT customer_id FROM account_balances
		 WHERE customer_id > ?
		 ORDER BY customer_id ASC
		 LIMIT ?`,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
