package service

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
)

// check is the pure comparison behind Verify. rows are ordered by sequence
// and periods by start.
func check(
	customerID snowflake.ID,
	cache balancedomain.AccountBalance,
	rows []ledgerdomain.LedgerTransaction,
	periods []statementdomain.StatementPeriod,
) domain.Report {
	r := &reporter{report: domain.Report{
		CustomerID:       customerID,
		TransactionCount: len(rows),
		PeriodCount:      len(periods),
		CachedBalance:    cache.CurrentBalance,
		Drifts:           []domain.Drift{},
	}}

	var balance int64
	sums := make(map[snowflake.ID]*ledgerdomain.PeriodSums, len(periods))
	for i := range rows {
		row := &rows[i]
		expectedSeq := int64(i + 1)
		if row.Sequence != expectedSeq {
			r.row(domain.DriftSequenceGap, row.ID, expectedSeq, row.Sequence, "")
		}
		if !ledgerdomain.HasValidSign(row.TransactionType, row.Amount) {
			r.row(domain.DriftSignConvention, row.ID, 0, row.Amount, string(row.TransactionType))
		}
		balance += row.Amount
		if row.RunningBalance != balance {
			r.row(domain.DriftRunningBalance, row.ID, balance, row.RunningBalance, "")
		}

		ps, ok := sums[row.StatementPeriodID]
		if !ok {
			ps = &ledgerdomain.PeriodSums{}
			sums[row.StatementPeriodID] = ps
		}
		ps.Add(row.TransactionType, row.Amount)
	}
	r.report.ReplayedBalance = balance

	known := make(map[snowflake.ID]*statementdomain.StatementPeriod, len(periods))
	for i := range periods {
		known[periods[i].ID] = &periods[i]
	}
	for i := range rows {
		row := &rows[i]
		p, ok := known[row.StatementPeriodID]
		if !ok || p.Covers(row.TransactionDate) {
			continue
		}
		r.row(domain.DriftPeriodWindow, row.ID, p.PeriodStart.Unix(), row.TransactionDate.Unix(),
			fmt.Sprintf("dated %s, period %s is [%s, %s)", row.TransactionDate.UTC().Format(time.RFC3339), p.ID,
				p.PeriodStart.UTC().Format(time.RFC3339), p.PeriodEnd.UTC().Format(time.RFC3339)))
	}

	current := 0
	for i := range periods {
		p := &periods[i]
		if p.IsCurrentPeriod {
			current++
		}

		if i == 0 {
			if p.OpeningBalance != 0 {
				r.period(domain.DriftPeriodOpening, p.ID, 0, p.OpeningBalance, "first period must open at zero")
			}
		} else {
			prev := &periods[i-1]
			if !p.PeriodStart.Equal(prev.PeriodEnd) {
				r.period(domain.DriftPeriodContiguity, p.ID, prev.PeriodEnd.Unix(), p.PeriodStart.Unix(),
					fmt.Sprintf("starts %s, previous ends %s", p.PeriodStart.UTC().Format("2006-01-02T15:04:05Z"), prev.PeriodEnd.UTC().Format("2006-01-02T15:04:05Z")))
			}
			if prev.ClosingBalance == nil {
				r.period(domain.DriftPeriodOpening, p.ID, 0, p.OpeningBalance, "previous period is not closed")
			} else if p.OpeningBalance != *prev.ClosingBalance {
				r.period(domain.DriftPeriodOpening, p.ID, *prev.ClosingBalance, p.OpeningBalance, "")
			}
		}

		ps := sums[p.ID]
		if ps == nil {
			ps = &ledgerdomain.PeriodSums{}
		}
		if !p.IsClosed() {
			continue
		}
		if p.TotalCharges != ps.Charges || p.TotalPayments != ps.Payments || p.TotalAdjustments != ps.Adjustments {
			r.period(domain.DriftPeriodTotals, p.ID, ps.Net(), p.TotalCharges-p.TotalPayments+p.TotalAdjustments,
				fmt.Sprintf("stored %d/%d/%d, replayed %d/%d/%d",
					p.TotalCharges, p.TotalPayments, p.TotalAdjustments, ps.Charges, ps.Payments, ps.Adjustments))
		}
		ledger, lastID := balanceBefore(rows, p)
		if expected := p.OpeningBalance + ps.Net(); *p.ClosingBalance != expected {
			r.period(domain.DriftPeriodClosing, p.ID, expected, *p.ClosingBalance, "")
			r.divergedAt(lastID)
		}
		if *p.ClosingBalance != ledger {
			r.period(domain.DriftPeriodClosing, p.ID, ledger, *p.ClosingBalance, "ledger running balance at period end")
			r.divergedAt(lastID)
		}
	}

	if current != 1 {
		r.add(domain.Drift{Kind: domain.DriftCurrentPeriodCount, Expected: 1, Actual: int64(current)})
	}
	for id := range sums {
		if _, ok := known[id]; ok {
			continue
		}
		periodID := id
		r.add(domain.Drift{Kind: domain.DriftPeriodTotals, PeriodID: &periodID, Detail: "rows reference a missing period"})
	}

	if cache.CurrentBalance != balance {
		r.add(domain.Drift{Kind: domain.DriftCacheBalance, Expected: balance, Actual: cache.CurrentBalance})
		if len(rows) > 0 {
			r.divergedAt(&rows[len(rows)-1].ID)
		}
	}
	r.checkLastDate(cache, rows)

	r.report.OK = len(r.report.Drifts) == 0
	return r.report
}

func (r *reporter) checkLastDate(cache balancedomain.AccountBalance, rows []ledgerdomain.LedgerTransaction) {
	if len(rows) == 0 {
		if cache.LastTransactionDate != nil {
			r.add(domain.Drift{Kind: domain.DriftCacheLastTransaction, Actual: cache.LastTransactionDate.Unix(), Detail: "no ledger rows"})
		}
		return
	}
	last := rows[len(rows)-1].TransactionDate
	if cache.LastTransactionDate == nil {
		r.add(domain.Drift{Kind: domain.DriftCacheLastTransaction, Expected: last.Unix(), Detail: "cache has no date"})
		return
	}
	if !cache.LastTransactionDate.Equal(last) {
		r.add(domain.Drift{Kind: domain.DriftCacheLastTransaction, Expected: last.Unix(), Actual: cache.LastTransactionDate.Unix()})
	}
}

// balanceBefore is the running balance of the last row dated before the
// period's end, and that row's id. The id is nil when no row precedes it.
func balanceBefore(rows []ledgerdomain.LedgerTransaction, p *statementdomain.StatementPeriod) (int64, *snowflake.ID) {
	var (
		balance int64
		id      *snowflake.ID
	)
	for i := range rows {
		if !rows[i].TransactionDate.Before(p.PeriodEnd) {
			break
		}
		balance = rows[i].RunningBalance
		id = &rows[i].ID
	}
	return balance, id
}

type reporter struct {
	report domain.Report
}

func (r *reporter) add(d domain.Drift) {
	r.report.Drifts = append(r.report.Drifts, d)
}

func (r *reporter) row(kind domain.DriftKind, txID snowflake.ID, expected, actual int64, detail string) {
	id := txID
	r.add(domain.Drift{Kind: kind, TransactionID: &id, Expected: expected, Actual: actual, Detail: detail})
	r.divergedAt(&id)
}

// divergedAt records txID unless an earlier finding already named a row.
func (r *reporter) divergedAt(txID *snowflake.ID) {
	if txID == nil || r.report.FirstDivergentTransactionID != nil {
		return
	}
	id := *txID
	r.report.FirstDivergentTransactionID = &id
}

func (r *reporter) period(kind domain.DriftKind, periodID snowflake.ID, expected, actual int64, detail string) {
	id := periodID
	r.add(domain.Drift{Kind: kind, PeriodID: &id, Expected: expected, Actual: actual, Detail: detail})
}
