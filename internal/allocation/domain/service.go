package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Allocate(ctx context.Context, paymentID snowflake.ID, targets []Target) (AllocationResult, error)
	AllocateTx(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, targets []Target) (AllocationResult, error)
	ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]PaymentAllocation, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]PaymentAllocation, error)
}

var (
	ErrPaymentNotFound          = errors.New("payment_not_found")
	ErrPaymentNotCompleted      = errors.New("payment_not_completed")
	ErrPaymentAlreadyAllocated  = errors.New("payment_already_allocated")
	ErrInvoiceNotFound          = errors.New("invoice_not_found")
	ErrInvoiceNotPayable        = errors.New("invoice_not_payable")
	ErrInvoiceCustomerMismatch  = errors.New("invoice_customer_mismatch")
	ErrAllocationExceedsDue     = errors.New("allocation_exceeds_due")
	ErrAllocationExceedsPayment = errors.New("allocation_exceeds_payment")
	ErrDuplicateTarget          = errors.New("duplicate_allocation_target")
	ErrInvalidAmount            = errors.New("invalid_allocation_amount")
)
