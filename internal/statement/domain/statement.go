package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
)

// Statement is the read model handed to statement rendering.
type Statement struct {
	Period       StatementPeriod                  `json:"period"`
	Transactions []ledgerdomain.LedgerTransaction `json:"transactions"`
	Summary      Summary                          `json:"summary"`
	Aging        []AgingLine                      `json:"aging"`
	AgingAsOf    time.Time                        `json:"aging_as_of"`
}

// Summary carries the period totals as major-unit strings.
type Summary struct {
	Currency         string `json:"currency"`
	OpeningBalance   string `json:"opening_balance"`
	TotalCharges     string `json:"total_charges"`
	TotalPayments    string `json:"total_payments"`
	TotalAdjustments string `json:"total_adjustments"`
	ClosingBalance   string `json:"closing_balance"`
}

// AgingLine is the unpaid invoice amount falling into one overdue bucket.
type AgingLine struct {
	Bucket       string         `json:"bucket"`
	InvoiceCount int            `json:"invoice_count"`
	AmountDue    int64          `json:"amount_due"`
	Display      string         `json:"display"`
	InvoiceIDs   []snowflake.ID `json:"invoice_ids"`
}
