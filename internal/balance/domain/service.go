package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LockedFunc runs while the customer's balance row is locked. Every query
// inside it must go through tx.
type LockedFunc func(ctx context.Context, tx *gorm.DB) error

type Service interface {
	Get(ctx context.Context, customerID snowflake.ID) (AccountBalance, error)
	WithCustomerLock(ctx context.Context, customerID snowflake.ID, fn LockedFunc) error
	HoldsLock(ctx context.Context, customerID snowflake.ID) bool
}

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrAccountExists    = errors.New("account_already_exists")
	ErrLockTimeout      = errors.New("customer_lock_timeout")
	ErrLockNotHeld      = errors.New("customer_lock_not_held")
	ErrNestedLock       = errors.New("nested_customer_lock")
	ErrInvalidCreditLim = errors.New("invalid_credit_limit")
)
