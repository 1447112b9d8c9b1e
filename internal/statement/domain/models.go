// Package domain groups ledger rows into contiguous statement periods.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// StatementPeriod covers [PeriodStart, PeriodEnd) of one customer's ledger.
// ClosingBalance stays nil until the period is closed.
type StatementPeriod struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID       snowflake.ID `gorm:"not null;uniqueIndex:ux_statement_periods_customer_start,priority:1" json:"customer_id"`
	PeriodStart      time.Time    `gorm:"not null;uniqueIndex:ux_statement_periods_customer_start,priority:2" json:"period_start"`
	PeriodEnd        time.Time    `gorm:"not null;index" json:"period_end"`
	OpeningBalance   int64        `gorm:"not null;default:0" json:"opening_balance"`
	ClosingBalance   *int64       `json:"closing_balance,omitempty"`
	TotalCharges     int64        `gorm:"not null;default:0" json:"total_charges"`
	TotalPayments    int64        `gorm:"not null;default:0" json:"total_payments"`
	TotalAdjustments int64        `gorm:"not null;default:0" json:"total_adjustments"`
	IsCurrentPeriod  bool         `gorm:"not null;default:false" json:"is_current_period"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (StatementPeriod) TableName() string { return "statement_periods" }

// IsClosed reports whether the period is immutable.
func (p StatementPeriod) IsClosed() bool {
	return !p.IsCurrentPeriod && p.ClosingBalance != nil
}

// Covers reports whether t falls inside the half-open window.
func (p StatementPeriod) Covers(t time.Time) bool {
	return !t.Before(p.PeriodStart) && t.Before(p.PeriodEnd)
}

// ClosingIdentity is opening + charges - payments + adjustments.
func (p StatementPeriod) ClosingIdentity() int64 {
	return p.OpeningBalance + p.TotalCharges - p.TotalPayments + p.TotalAdjustments
}
