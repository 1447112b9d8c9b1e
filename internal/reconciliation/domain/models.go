// Package domain describes ledger consistency reports.
package domain

import (
	"github.com/bwmarrin/snowflake"
)

// DriftKind names the invariant a finding breaks.
type DriftKind string

const (
	DriftRunningBalance       DriftKind = "running_balance"
	DriftSequenceGap          DriftKind = "sequence_gap"
	DriftSignConvention       DriftKind = "sign_convention"
	DriftPeriodWindow         DriftKind = "period_window"
	DriftPeriodClosing        DriftKind = "period_closing"
	DriftPeriodTotals         DriftKind = "period_totals"
	DriftPeriodOpening        DriftKind = "period_opening"
	DriftPeriodContiguity     DriftKind = "period_contiguity"
	DriftCurrentPeriodCount   DriftKind = "current_period_count"
	DriftCacheBalance         DriftKind = "cache_balance"
	DriftCacheLastTransaction DriftKind = "cache_last_transaction_date"
)

// Drift is one disagreement between stored state and a replay of the ledger.
type Drift struct {
	Kind          DriftKind     `json:"kind"`
	TransactionID *snowflake.ID `json:"transaction_id,omitempty"`
	PeriodID      *snowflake.ID `json:"period_id,omitempty"`
	Expected      int64         `json:"expected"`
	Actual        int64         `json:"actual"`
	Detail        string        `json:"detail,omitempty"`
}

// Report is the result of verifying one customer.
type Report struct {
	CustomerID                  snowflake.ID  `json:"customer_id"`
	OK                          bool          `json:"ok"`
	TransactionCount            int           `json:"transaction_count"`
	PeriodCount                 int           `json:"period_count"`
	ReplayedBalance             int64         `json:"replayed_balance"`
	CachedBalance               int64         `json:"cached_balance"`
	FirstDivergentTransactionID *snowflake.ID `json:"first_divergent_transaction_id,omitempty"`
	Drifts                      []Drift       `json:"drifts"`
}

// SweepResult summarizes VerifyAll. Reports holds drifted customers only.
type SweepResult struct {
	Checked int      `json:"checked"`
	Drifted int      `json:"drifted"`
	Failed  int      `json:"failed"`
	Reports []Report `json:"reports"`
}
