// Package domain contains the append-only customer ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType classifies a ledger row and fixes its sign.
type TransactionType string

const (
	TransactionTypeCharge     TransactionType = "charge"
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeAdjustment TransactionType = "adjustment"
	TransactionTypeCredit     TransactionType = "credit"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeCharge, TransactionTypePayment, TransactionTypeAdjustment, TransactionTypeCredit:
		return true
	default:
		return false
	}
}

// LedgerTransaction is one immutable signed entry in a customer's history.
// Rows are ordered by Sequence, never by TransactionDate.
type LedgerTransaction struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	CustomerID        snowflake.ID    `gorm:"not null;uniqueIndex:ux_ledger_transactions_customer_seq,priority:1" json:"customer_id"`
	Sequence          int64           `gorm:"not null;uniqueIndex:ux_ledger_transactions_customer_seq,priority:2" json:"sequence"`
	TransactionType   TransactionType `gorm:"type:text;not null" json:"transaction_type"`
	Amount            int64           `gorm:"not null" json:"amount"`
	RunningBalance    int64           `gorm:"not null" json:"running_balance"`
	InvoiceID         *snowflake.ID   `gorm:"index" json:"invoice_id,omitempty"`
	PaymentID         *snowflake.ID   `gorm:"index" json:"payment_id,omitempty"`
	AllocationID      *snowflake.ID   `json:"allocation_id,omitempty"`
	JobReference      *string         `gorm:"type:text" json:"job_reference,omitempty"`
	Description       string          `gorm:"type:text;not null;default:''" json:"description"`
	StatementPeriodID snowflake.ID    `gorm:"not null;index" json:"statement_period_id"`
	TransactionDate   time.Time       `gorm:"not null" json:"transaction_date"`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// SignedAmount applies the ledger sign convention. Charges, payments and
// credits take a positive magnitude; adjustments carry their own sign.
func SignedAmount(t TransactionType, amount int64) (int64, error) {
	switch t {
	case TransactionTypeCharge:
		if amount <= 0 {
			return 0, ErrInvalidAmount
		}
		return amount, nil
	case TransactionTypePayment, TransactionTypeCredit:
		if amount <= 0 {
			return 0, ErrInvalidAmount
		}
		return -amount, nil
	case TransactionTypeAdjustment:
		if amount == 0 {
			return 0, ErrInvalidAmount
		}
		return amount, nil
	default:
		return 0, ErrInvalidTransactionType
	}
}

// HasValidSign reports whether a stored signed amount matches its type.
func HasValidSign(t TransactionType, signed int64) bool {
	switch t {
	case TransactionTypeCharge:
		return signed > 0
	case TransactionTypePayment, TransactionTypeCredit:
		return signed < 0
	case TransactionTypeAdjustment:
		return signed != 0
	default:
		return false
	}
}

// PeriodSums are the statement totals of a set of rows. Payments holds the
// magnitude of payment and credit rows.
type PeriodSums struct {
	Charges          int64
	Payments         int64
	Adjustments      int64
	TransactionCount int64
}

// Net is the balance movement the sums describe.
func (s PeriodSums) Net() int64 {
	return s.Charges - s.Payments + s.Adjustments
}

// Add folds a stored row into the sums.
func (s *PeriodSums) Add(t TransactionType, signed int64) {
	s.TransactionCount++
	switch t {
	case TransactionTypeCharge:
		s.Charges += signed
	case TransactionTypePayment, TransactionTypeCredit:
		s.Payments -= signed
	case TransactionTypeAdjustment:
		s.Adjustments += signed
	}
}
