// Package domain splits completed payments across invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentAllocation assigns part of one payment to one invoice.
type PaymentAllocation struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID           snowflake.ID `gorm:"not null;index" json:"payment_id"`
	InvoiceID           snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	CustomerID          snowflake.ID `gorm:"not null;index" json:"customer_id"`
	AllocatedAmount     int64        `gorm:"not null" json:"allocated_amount"`
	LedgerTransactionID snowflake.ID `gorm:"not null" json:"ledger_transaction_id"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PaymentAllocation) TableName() string { return "payment_allocations" }

// Target names an invoice to pay. A nil Amount takes as much of the
// invoice's due amount as the payment still covers.
type Target struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
	Amount    *int64       `json:"amount,omitempty"`
}

type AllocationMode string

const (
	AllocationModeExplicit AllocationMode = "explicit"
	AllocationModeFIFO     AllocationMode = "fifo"
)

// AllocationResult is the outcome of one allocate call.
type AllocationResult struct {
	PaymentID           snowflake.ID        `json:"payment_id"`
	Mode                AllocationMode      `json:"mode"`
	Allocations         []PaymentAllocation `json:"allocations"`
	OverpaymentAmount   int64               `json:"overpayment_amount"`
	CreditTransactionID *snowflake.ID       `json:"credit_transaction_id,omitempty"`
}

// AllocatedTotal is the sum of all allocation amounts.
func (r AllocationResult) AllocatedTotal() int64 {
	var total int64
	for _, a := range r.Allocations {
		total += a.AllocatedAmount
	}
	return total
}
