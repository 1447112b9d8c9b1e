package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CloseUpdate is written once when a period closes.
type CloseUpdate struct {
	PeriodID         snowflake.ID
	PeriodEnd        time.Time
	ClosingBalance   int64
	TotalCharges     int64
	TotalPayments    int64
	TotalAdjustments int64
	ClosedAt         time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, period *StatementPeriod) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*StatementPeriod, error)
	FindCurrent(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*StatementPeriod, error)
	FindLatest(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*StatementPeriod, error)
	FindClosedEndingAt(ctx context.Context, db *gorm.DB, customerID snowflake.ID, end time.Time) (*StatementPeriod, error)
	Close(ctx context.Context, db *gorm.DB, update CloseUpdate) error
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]StatementPeriod, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]StatementPeriod, error)
}
