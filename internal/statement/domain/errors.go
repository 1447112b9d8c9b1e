package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidCustomer         = errors.New("invalid_customer")
	ErrInvalidCycle            = errors.New("invalid_statement_cycle")
	ErrInvalidAsOf             = errors.New("invalid_as_of")
	ErrInvalidPeriodStart      = errors.New("invalid_period_start")
	ErrNoOpenPeriod            = errors.New("no_open_period")
	ErrPeriodAlreadyOpen       = errors.New("period_already_open")
	ErrPeriodNotContiguous     = errors.New("period_not_contiguous")
	ErrPeriodNotFound          = errors.New("period_not_found")
	ErrTransactionsAfterCutoff = errors.New("transactions_after_cutoff")
	ErrClosingBalanceMismatch  = errors.New("closing_balance_mismatch")
)

// ClosingBalanceMismatchError reports a period whose totals disagree with the
// ledger. The period stays open.
type ClosingBalanceMismatchError struct {
	PeriodID          snowflake.ID
	CustomerID        snowflake.ID
	Computed          int64
	LedgerBalance     int64
	LastTransactionID snowflake.ID
}

func (e *ClosingBalanceMismatchError) Error() string {
	return fmt.Sprintf("closing_balance_mismatch: period %s computed %d, ledger %d (last transaction %s)",
		e.PeriodID, e.Computed, e.LedgerBalance, e.LastTransactionID)
}

func (e *ClosingBalanceMismatchError) Unwrap() error {
	return ErrClosingBalanceMismatch
}
