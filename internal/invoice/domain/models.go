// Package domain contains invoices, the charge side of the ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Payable reports whether allocations may be applied in this status.
func (s InvoiceStatus) Payable() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusPartial || s == InvoiceStatusOverdue
}

// OutstandingStatuses are the statuses counted as open receivables.
var OutstandingStatuses = []InvoiceStatus{InvoiceStatusSent, InvoiceStatusPartial, InvoiceStatusOverdue}

// Invoice represents a billed job. Total is fixed once the invoice leaves draft.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	CustomerID     snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	InvoiceNumber  *string       `gorm:"type:text;uniqueIndex" json:"invoice_number,omitempty"`
	NumberSeq      *int64        `gorm:"uniqueIndex" json:"-"`
	JobReference   *string       `gorm:"type:text" json:"job_reference,omitempty"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'draft'" json:"status"`
	Subtotal       int64         `gorm:"not null;default:0" json:"subtotal"`
	TaxAmount      int64         `gorm:"not null;default:0" json:"tax_amount"`
	DiscountAmount int64         `gorm:"not null;default:0" json:"discount_amount"`
	Total          int64         `gorm:"not null;default:0" json:"total"`
	AmountPaid     int64         `gorm:"not null;default:0" json:"amount_paid"`
	IssuedAt       *time.Time    `json:"issued_at,omitempty"`
	DueAt          *time.Time    `gorm:"index" json:"due_at,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// NumberCounter hands out invoice number sequences. Claims commit on their
// own, so a finalize that later rolls back leaves a gap in the numbering.
type NumberCounter struct {
	Name      string `gorm:"primaryKey;type:varchar(64)"`
	LastValue int64  `gorm:"not null;default:0"`
}

func (NumberCounter) TableName() string { return "invoice_number_counters" }

// InvoiceNumberCounter is the counter row shared by every customer.
const InvoiceNumberCounter = "invoice_number"

// AmountDue is total minus what allocations have paid.
func (i Invoice) AmountDue() int64 {
	return i.Total - i.AmountPaid
}

// ComputeTotal is subtotal + tax - discount.
func ComputeTotal(subtotal, tax, discount int64) int64 {
	return subtotal + tax - discount
}

// StatusAfterPayment is the status an invoice takes once amountPaid is applied.
// An overdue invoice stays overdue until it is fully paid.
func StatusAfterPayment(current InvoiceStatus, total, amountPaid int64) InvoiceStatus {
	switch {
	case amountPaid >= total:
		return InvoiceStatusPaid
	case current == InvoiceStatusOverdue:
		return InvoiceStatusOverdue
	case amountPaid > 0:
		return InvoiceStatusPartial
	default:
		return current
	}
}
