package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	CustomerID    snowflake.ID
	Type          TransactionType
	PeriodID      snowflake.ID
	AfterSequence int64
	Limit         int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *LedgerTransaction) error
	FindLast(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*LedgerTransaction, error)
	FindLastBefore(ctx context.Context, db *gorm.DB, customerID snowflake.ID, before time.Time) (*LedgerTransaction, error)
	FindChargeByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*LedgerTransaction, error)
	CountInPeriodFrom(ctx context.Context, db *gorm.DB, periodID snowflake.ID, from time.Time) (int64, error)
	SumByPeriod(ctx context.Context, db *gorm.DB, periodID snowflake.ID) (PeriodSums, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*LedgerTransaction, error)
	ListByPeriod(ctx context.Context, db *gorm.DB, periodID snowflake.ID) ([]LedgerTransaction, error)
	ListAllByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]LedgerTransaction, error)
}
