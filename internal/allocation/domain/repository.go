package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, allocation *PaymentAllocation) error
	ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]PaymentAllocation, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]PaymentAllocation, error)
	SumByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
}
