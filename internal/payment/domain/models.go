// Package domain contains raw payment receipts before and after allocation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodCheque, PaymentMethodOther:
		return true
	default:
		return false
	}
}

// Payment is money received from a customer. Amount never changes; only
// the overpayment and refund remainders are written after completion.
type Payment struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	CustomerID        snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Amount            int64             `gorm:"not null" json:"amount"`
	Method            PaymentMethod     `gorm:"type:text;not null" json:"method"`
	Status            PaymentStatus     `gorm:"type:text;not null;default:'pending'" json:"status"`
	Reference         *string           `gorm:"type:text" json:"reference,omitempty"`
	OverpaymentAmount int64             `gorm:"not null;default:0" json:"overpayment_amount"`
	RefundAmount      int64             `gorm:"not null;default:0" json:"refund_amount"`
	FailureReason     *string           `gorm:"type:text" json:"failure_reason,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	ReceivedAt        time.Time         `gorm:"not null" json:"received_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	AllocatedAt       *time.Time        `json:"allocated_at,omitempty"`
	FailedAt          *time.Time        `json:"failed_at,omitempty"`
	RefundedAt        *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// RefundableAmount is the overpayment not yet returned.
func (p Payment) RefundableAmount() int64 {
	return p.OverpaymentAmount - p.RefundAmount
}
