package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, balance *AccountBalance) error
	FindByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*AccountBalance, error)
	LockForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*AccountBalance, error)
	ApplyPosting(ctx context.Context, db *gorm.DB, posting Posting) error
	UpdateCreditLimit(ctx context.Context, db *gorm.DB, customerID snowflake.ID, limit int64, now time.Time) error
	ListCustomerIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}
