// Package domain holds the per-customer balance projection of the ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AccountBalance is the denormalized current state of a customer's ledger.
// The row doubles as the customer's posting lock.
type AccountBalance struct {
	CustomerID          snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"customer_id"`
	CurrentBalance      int64        `gorm:"not null;default:0" json:"current_balance"`
	CreditLimit         int64        `gorm:"not null;default:0" json:"credit_limit"`
	CreditUsed          int64        `gorm:"not null;default:0" json:"credit_used"`
	OutstandingInvoices int64        `gorm:"not null;default:0" json:"outstanding_invoices"`
	LastTransactionDate *time.Time   `json:"last_transaction_date,omitempty"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (AccountBalance) TableName() string { return "account_balances" }

// AvailableCredit is the unused part of the credit limit. It is never negative.
func (b AccountBalance) AvailableCredit() int64 {
	if b.CreditUsed >= b.CreditLimit {
		return 0
	}
	return b.CreditLimit - b.CreditUsed
}

// Posting is the cache update written together with a ledger append.
type Posting struct {
	CustomerID          snowflake.ID
	CurrentBalance      int64
	OutstandingInvoices int64
	TransactionDate     time.Time
	UpdatedAt           time.Time
}

// CreditUsedFor is the part of a balance that consumes credit.
func CreditUsedFor(balance int64) int64 {
	if balance > 0 {
		return balance
	}
	return 0
}
