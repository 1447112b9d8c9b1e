package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// PostRequest asks the poster to append one row. Amount follows SignedAmount.
type PostRequest struct {
	CustomerID   snowflake.ID
	Type         TransactionType
	Amount       int64
	InvoiceID    *snowflake.ID
	PaymentID    *snowflake.ID
	AllocationID *snowflake.ID
	JobReference *string
	Description  string
}

type ListTransactionsRequest struct {
	pagination.Pagination
	CustomerID snowflake.ID
	Type       string
	PeriodID   string
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []LedgerTransaction `json:"transactions"`
}

type Service interface {
	Post(ctx context.Context, req PostRequest) (LedgerTransaction, error)
	PostTx(ctx context.Context, tx *gorm.DB, req PostRequest) (LedgerTransaction, error)
	OpenAccountTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, creditLimit int64, openedAt time.Time) (balancedomain.AccountBalance, error)
	SetCreditLimit(ctx context.Context, customerID snowflake.ID, limit int64) (balancedomain.AccountBalance, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	ListByPeriod(ctx context.Context, periodID snowflake.ID) ([]LedgerTransaction, error)
}

var (
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCustomer        = errors.New("invalid_customer")
	ErrInvalidPeriod          = errors.New("invalid_period")
	ErrBalanceCacheDrift      = errors.New("balance_cache_drift")
	ErrDuplicateCharge        = errors.New("duplicate_invoice_charge")
)
