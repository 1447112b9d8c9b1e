package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	CustomerID     snowflake.ID
	JobReference   string
	Subtotal       int64
	TaxAmount      int64
	DiscountAmount int64
	DueAt          *time.Time
}

type ListInvoiceRequest struct {
	pagination.Pagination
	CustomerID snowflake.ID
	Status     string
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	Finalize(ctx context.Context, invoiceID snowflake.ID) (Invoice, error)
	Cancel(ctx context.Context, invoiceID snowflake.ID, reason string) (Invoice, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	GetByID(ctx context.Context, invoiceID snowflake.ID) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ApplyPaymentTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, amount int64, at time.Time) (Invoice, error)
}

var (
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrCustomerNotFound      = errors.New("customer_not_found")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidTotal          = errors.New("invalid_total")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrInvoiceNotDraft       = errors.New("invoice_not_draft")
	ErrInvoiceNotPayable     = errors.New("invoice_not_payable")
	ErrInvoiceNotCancellable = errors.New("invoice_not_cancellable")
	ErrAmountExceedsDue      = errors.New("amount_exceeds_due")
	ErrInvoiceNumberConflict = errors.New("invoice_number_conflict")
)
