package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	CustomerID snowflake.ID
	Status     PaymentStatus
	BeforeID   snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Payment, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason *string, at time.Time) error
	MarkAllocated(ctx context.Context, db *gorm.DB, id snowflake.ID, overpayment int64, at time.Time) error
	ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundAmount int64, status PaymentStatus, at time.Time) error
}
