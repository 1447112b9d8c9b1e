package service

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/config"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/smallbiznis/pressledger/pkg/money"
)

// GetStatement assembles a period, its rows and the aged receivables for
// rendering. An open period reports its running totals.
func (s *Service) GetStatement(ctx context.Context, customerID, periodID snowflake.ID) (domain.Statement, error) {
	if customerID == 0 {
		return domain.Statement{}, domain.ErrInvalidCustomer
	}
	period, err := s.repo.FindByID(ctx, s.db, periodID)
	if err != nil {
		return domain.Statement{}, err
	}
	if period == nil || period.CustomerID != customerID {
		return domain.Statement{}, domain.ErrPeriodNotFound
	}

	rows, err := s.ledgerRepo.ListByPeriod(ctx, s.db, period.ID)
	if err != nil {
		return domain.Statement{}, err
	}
	if rows == nil {
		rows = []ledgerdomain.LedgerTransaction{}
	}

	sums := ledgerdomain.PeriodSums{
		Charges:     period.TotalCharges,
		Payments:    period.TotalPayments,
		Adjustments: period.TotalAdjustments,
	}
	closing := period.ClosingIdentity()
	agingAsOf := period.PeriodEnd
	if !period.IsClosed() {
		sums = ledgerdomain.PeriodSums{}
		for _, row := range rows {
			sums.Add(row.TransactionType, row.Amount)
		}
		closing = period.OpeningBalance + sums.Net()
		agingAsOf = s.now()
	} else if period.ClosingBalance != nil {
		closing = *period.ClosingBalance
	}

	outstanding, err := s.invoiceRepo.ListOutstanding(ctx, s.db, customerID)
	if err != nil {
		return domain.Statement{}, err
	}
	if period.IsClosed() {
		outstanding = issuedBefore(outstanding, period.PeriodEnd)
	}

	return domain.Statement{
		Period:       *period,
		Transactions: rows,
		Summary: domain.Summary{
			Currency:         s.currency,
			OpeningBalance:   money.Format(period.OpeningBalance),
			TotalCharges:     money.Format(sums.Charges),
			TotalPayments:    money.Format(sums.Payments),
			TotalAdjustments: money.Format(sums.Adjustments),
			ClosingBalance:   money.Format(closing),
		},
		Aging:     ageInvoices(s.aging.Get(), outstanding, agingAsOf),
		AgingAsOf: agingAsOf,
	}, nil
}

// ageInvoices buckets unpaid invoices by whole days past due at asOf.
// Invoices without a due date, or not yet due, count as zero days.
func ageInvoices(cfg config.StatementConfig, invoices []invoicedomain.Invoice, asOf time.Time) []domain.AgingLine {
	lines := make([]domain.AgingLine, 0, len(cfg.AgingBuckets))
	index := make(map[string]int, len(cfg.AgingBuckets))
	for _, bucket := range cfg.AgingBuckets {
		index[bucket.Label] = len(lines)
		lines = append(lines, domain.AgingLine{
			Bucket:     bucket.Label,
			InvoiceIDs: []snowflake.ID{},
		})
	}

	for _, inv := range invoices {
		due := inv.AmountDue()
		if due <= 0 {
			continue
		}
		i, ok := index[cfg.BucketFor(daysPastDue(inv.DueAt, asOf))]
		if !ok {
			continue
		}
		lines[i].InvoiceCount++
		lines[i].AmountDue += due
		lines[i].InvoiceIDs = append(lines[i].InvoiceIDs, inv.ID)
	}

	for i := range lines {
		lines[i].Display = money.Format(lines[i].AmountDue)
	}
	return lines
}

// issuedBefore keeps invoices a closed period could have billed.
func issuedBefore(invoices []invoicedomain.Invoice, end time.Time) []invoicedomain.Invoice {
	kept := invoices[:0]
	for _, inv := range invoices {
		if inv.IssuedAt != nil && inv.IssuedAt.Before(end) {
			kept = append(kept, inv)
		}
	}
	return kept
}

func daysPastDue(dueAt *time.Time, asOf time.Time) int {
	if dueAt == nil || !asOf.After(*dueAt) {
		return 0
	}
	return int(math.Floor(asOf.Sub(*dueAt).Hours() / 24))
}
