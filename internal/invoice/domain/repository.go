package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	CustomerID snowflake.ID
	Status     InvoiceStatus
	BeforeID   snowflake.ID
	Limit      int
}

// PaymentUpdate is written when an allocation lands on an invoice.
type PaymentUpdate struct {
	InvoiceID  snowflake.ID
	AmountPaid int64
	Status     InvoiceStatus
	PaidAt     *time.Time
	UpdatedAt  time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	ListOutstanding(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Invoice, error)
	CountOutstanding(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error)
	ClaimNumberSeq(ctx context.Context, db *gorm.DB) (int64, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, number string, seq int64, issuedAt time.Time, dueAt *time.Time) error
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	ApplyPayment(ctx context.Context, db *gorm.DB, update PaymentUpdate) error
	MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
