package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	march = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	april = time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	may   = time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
)

func int64p(v int64) *int64 { return &v }

// history is two periods: a closed March with a charge and a partial
// payment, and an open April with an adjustment.
func history() (balancedomain.AccountBalance, []ledgerdomain.LedgerTransaction, []statementdomain.StatementPeriod) {
	periods := []statementdomain.StatementPeriod{
		{
			ID:             10,
			PeriodStart:    march,
			PeriodEnd:      april,
			OpeningBalance: 0,
			ClosingBalance: int64p(7000),
			TotalCharges:   10000,
			TotalPayments:  3000,
		},
		{
			ID:              11,
			PeriodStart:     april,
			PeriodEnd:       may,
			OpeningBalance:  7000,
			IsCurrentPeriod: true,
		},
	}
	rows := []ledgerdomain.LedgerTransaction{
		{ID: 100, Sequence: 1, TransactionType: ledgerdomain.TransactionTypeCharge, Amount: 10000, RunningBalance: 10000, StatementPeriodID: 10, TransactionDate: march.Add(48 * time.Hour)},
		{ID: 101, Sequence: 2, TransactionType: ledgerdomain.TransactionTypePayment, Amount: -3000, RunningBalance: 7000, StatementPeriodID: 10, TransactionDate: march.Add(72 * time.Hour)},
		{ID: 102, Sequence: 3, TransactionType: ledgerdomain.TransactionTypeAdjustment, Amount: -500, RunningBalance: 6500, StatementPeriodID: 11, TransactionDate: april.Add(24 * time.Hour)},
	}
	last := rows[2].TransactionDate
	cache := balancedomain.AccountBalance{CustomerID: 1, CurrentBalance: 6500, LastTransactionDate: &last}
	return cache, rows, periods
}

func kinds(report domain.Report) []domain.DriftKind {
	out := make([]domain.DriftKind, 0, len(report.Drifts))
	for _, d := range report.Drifts {
		out = append(out, d.Kind)
	}
	return out
}

func TestCheckConsistentHistory(t *testing.T) {
	cache, rows, periods := history()

	report := check(1, cache, rows, periods)
	assert.True(t, report.OK, "drifts: %v", report.Drifts)
	assert.Equal(t, 3, report.TransactionCount)
	assert.Equal(t, 2, report.PeriodCount)
	assert.Equal(t, int64(6500), report.ReplayedBalance)
	assert.Nil(t, report.FirstDivergentTransactionID)
}

func TestCheckEmptyAccount(t *testing.T) {
	periods := []statementdomain.StatementPeriod{{ID: 1, PeriodStart: march, PeriodEnd: april, IsCurrentPeriod: true}}

	report := check(1, balancedomain.AccountBalance{CustomerID: 1}, nil, periods)
	assert.True(t, report.OK)
	assert.Empty(t, report.Drifts)
}

func TestCheckFindsRunningBalanceBreak(t *testing.T) {
	cache, rows, periods := history()
	rows[1].RunningBalance = 7100

	report := check(1, cache, rows, periods)
	assert.False(t, report.OK)
	// March's closing no longer matches the last row before its end.
	assert.Equal(t, []domain.DriftKind{domain.DriftRunningBalance, domain.DriftPeriodClosing}, kinds(report))
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, snowflake.ID(101), *report.FirstDivergentTransactionID)
	assert.Equal(t, int64(7000), report.Drifts[0].Expected)
	assert.Equal(t, int64(7100), report.Drifts[0].Actual)
}

func TestCheckFindsSequenceGapAndSign(t *testing.T) {
	cache, rows, periods := history()
	rows[2].Sequence = 5
	rows[1].TransactionType = ledgerdomain.TransactionTypeCharge

	report := check(1, cache, rows, periods)
	assert.ElementsMatch(t, []domain.DriftKind{
		domain.DriftSignConvention,
		domain.DriftSequenceGap,
		// A payment relabelled as a charge also moves the March totals.
		domain.DriftPeriodTotals,
	}, kinds(report))
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, snowflake.ID(101), *report.FirstDivergentTransactionID)
}

func TestCheckFindsPeriodDrift(t *testing.T) {
	cache, rows, periods := history()
	periods[0].ClosingBalance = int64p(7500)
	periods[1].OpeningBalance = 7500

	report := check(1, cache, rows, periods)
	assert.ElementsMatch(t, []domain.DriftKind{
		domain.DriftPeriodClosing,
		domain.DriftPeriodClosing,
	}, kinds(report))
	for _, d := range report.Drifts {
		require.NotNil(t, d.PeriodID)
		assert.Equal(t, snowflake.ID(10), *d.PeriodID)
	}
	// The last March row is where the stored closing stops matching.
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, snowflake.ID(101), *report.FirstDivergentTransactionID)
}

func TestCheckPeriodDriftWithoutRowsNamesNoTransaction(t *testing.T) {
	periods := []statementdomain.StatementPeriod{
		{ID: 1, PeriodStart: march, PeriodEnd: april, ClosingBalance: int64p(50)},
		{ID: 2, PeriodStart: april, PeriodEnd: may, OpeningBalance: 50, IsCurrentPeriod: true},
	}

	report := check(1, balancedomain.AccountBalance{CustomerID: 1}, nil, periods)
	assert.False(t, report.OK)
	assert.Contains(t, kinds(report), domain.DriftPeriodClosing)
	assert.Nil(t, report.FirstDivergentTransactionID)
}

func TestCheckFindsRowOutsidePeriodWindow(t *testing.T) {
	cache, rows, periods := history()
	// Still attributed to March, but dated in April.
	rows[1].TransactionDate = april.Add(time.Hour)

	report := check(1, cache, rows, periods)
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Drifts)
	assert.Equal(t, domain.DriftPeriodWindow, report.Drifts[0].Kind)
	require.NotNil(t, report.Drifts[0].TransactionID)
	assert.Equal(t, snowflake.ID(101), *report.Drifts[0].TransactionID)
	assert.Equal(t, april.Add(time.Hour).Unix(), report.Drifts[0].Actual)
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, snowflake.ID(101), *report.FirstDivergentTransactionID)

	cache, rows, periods = history()
	rows[2].TransactionDate = march.Add(-time.Hour)
	report = check(1, cache, rows, periods)
	assert.Contains(t, kinds(report), domain.DriftPeriodWindow)
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, snowflake.ID(102), *report.FirstDivergentTransactionID)
}

func TestCheckFindsBrokenChain(t *testing.T) {
	cache, rows, periods := history()
	periods[1].PeriodStart = april.Add(time.Hour)
	periods[1].OpeningBalance = 6900

	report := check(1, cache, rows, periods)
	assert.ElementsMatch(t, []domain.DriftKind{
		domain.DriftPeriodContiguity,
		domain.DriftPeriodOpening,
	}, kinds(report))
}

func TestCheckCountsCurrentPeriods(t *testing.T) {
	cache, rows, periods := history()
	periods[1].IsCurrentPeriod = false

	report := check(1, cache, rows, periods)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, domain.DriftCurrentPeriodCount, report.Drifts[0].Kind)
	assert.Zero(t, report.Drifts[0].Actual)
}

func TestCheckComparesCache(t *testing.T) {
	cache, rows, periods := history()
	cache.CurrentBalance = 6000
	stale := rows[1].TransactionDate
	cache.LastTransactionDate = &stale

	report := check(1, cache, rows, periods)
	assert.ElementsMatch(t, []domain.DriftKind{
		domain.DriftCacheBalance,
		domain.DriftCacheLastTransaction,
	}, kinds(report))
	assert.Equal(t, int64(6500), report.ReplayedBalance)
	assert.Equal(t, int64(6000), report.CachedBalance)
	// No row breaks, so the finding points at the last replayed row.
	require.NotNil(t, report.FirstDivergentTransactionID)
	assert.Equal(t, snowflake.ID(102), *report.FirstDivergentTransactionID)
}
