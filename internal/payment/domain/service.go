package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

type RecordPaymentRequest struct {
	CustomerID snowflake.ID
	Amount     int64
	Method     string
	Reference  string
	ReceivedAt *time.Time
	Metadata   map[string]any
}

type CompletePaymentResponse struct {
	Payment    Payment                           `json:"payment"`
	Allocation allocationdomain.AllocationResult `json:"allocation"`
}

type RefundResponse struct {
	Payment     Payment                        `json:"payment"`
	Transaction ledgerdomain.LedgerTransaction `json:"transaction"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	CustomerID snowflake.ID
	Status     string
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	Record(ctx context.Context, req RecordPaymentRequest) (Payment, error)
	Complete(ctx context.Context, paymentID snowflake.ID, targets []allocationdomain.Target) (CompletePaymentResponse, error)
	Fail(ctx context.Context, paymentID snowflake.ID, reason string) (Payment, error)
	RefundOverpayment(ctx context.Context, paymentID snowflake.ID, amount int64) (RefundResponse, error)
	GetByID(ctx context.Context, paymentID snowflake.ID) (Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
}

var (
	ErrInvalidCustomer          = errors.New("invalid_customer")
	ErrCustomerNotFound         = errors.New("customer_not_found")
	ErrInvalidAmount            = errors.New("invalid_amount")
	ErrInvalidMethod            = errors.New("invalid_payment_method")
	ErrInvalidStatus            = errors.New("invalid_status")
	ErrPaymentNotFound          = errors.New("payment_not_found")
	ErrPaymentNotPending        = errors.New("payment_not_pending")
	ErrPaymentNotCompleted      = errors.New("payment_not_completed")
	ErrRefundExceedsOverpayment = errors.New("refund_exceeds_overpayment")
)
