package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// RolloverResult lists the periods a rollover closed and the one left open.
type RolloverResult struct {
	Closed  []StatementPeriod `json:"closed"`
	Current StatementPeriod   `json:"current"`
}

type Service interface {
	CloseCurrentPeriod(ctx context.Context, customerID snowflake.ID, asOf time.Time) (StatementPeriod, error)
	CloseCurrentPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, asOf time.Time) (StatementPeriod, error)
	OpenNextPeriod(ctx context.Context, customerID snowflake.ID, periodStart time.Time) (StatementPeriod, error)
	OpenNextPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, periodStart time.Time) (StatementPeriod, error)
	Rollover(ctx context.Context, customerID snowflake.ID, now time.Time) (RolloverResult, error)
	EnsureCurrentPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, at time.Time) (StatementPeriod, error)
	OpenInitialPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, openedAt time.Time) (StatementPeriod, error)
	GetCurrent(ctx context.Context, customerID snowflake.ID) (StatementPeriod, error)
	List(ctx context.Context, customerID snowflake.ID) ([]StatementPeriod, error)
	GetStatement(ctx context.Context, customerID, periodID snowflake.ID) (Statement, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]StatementPeriod, error)
}
