package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	"github.com/smallbiznis/pressledger/internal/scheduler"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func findCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	value, ok := findCounter(t, registry, name, labels)
	if !ok {
		t.Fatalf("metric %s with labels %v not found", name, labels)
	}
	return value
}

// labelsMatch compares variable labels only; the const service/env labels
// are ignored.
func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, label := range metric.Label {
		switch label.GetName() {
		case "service", "env":
			continue
		}
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
		matched++
	}
	return matched == len(labels)
}

func newScheduler(t *testing.T, env *testutil.Env, cfg scheduler.Config) *scheduler.Scheduler {
	t.Helper()
	sched, err := scheduler.New(scheduler.Params{
		Log:            zap.NewNop(),
		Clock:          env.Clock,
		Statements:     env.Statements,
		Invoices:       env.Invoices,
		Reconciliation: env.Reconciliation,
		Config:         cfg,
	})
	require.NoError(t, err)
	return sched
}

func april(d, hour int) time.Time {
	return time.Date(2026, time.April, d, hour, 0, 0, 0, time.UTC)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := scheduler.New(scheduler.Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, scheduler.ErrInvalidConfig)
}

func TestStatementRolloverJobClosesDuePeriods(t *testing.T) {
	registry := prometheus.NewRegistry()
	defer swapPrometheusRegistry(registry)()

	env := testutil.New(t)
	ctx := context.Background()
	invoiced := env.Customer(t, "Harbor Signs")
	env.Customer(t, "Quiet Bindery")
	env.Customer(t, "Third Press")
	env.SentInvoice(t, invoiced.ID, 10000)

	env.Clock.Set(april(2, 6))
	sched := newScheduler(t, env, scheduler.Config{BatchSize: 2})
	require.NoError(t, sched.StatementRolloverJob(ctx))

	periods, err := env.Statements.List(ctx, invoiced.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	require.NotNil(t, periods[0].ClosingBalance)
	assert.Equal(t, int64(10000), *periods[0].ClosingBalance)
	assert.Equal(t, int64(10000), periods[1].OpeningBalance)
	assert.True(t, periods[1].IsCurrentPeriod)
	assert.True(t, periods[1].PeriodStart.Equal(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, float64(3), getCounterValue(t, registry, "pressledger_statement_rollovers_total", map[string]string{"result": obsmetrics.RolloverResultClosed}))
	assert.Equal(t, float64(3), getCounterValue(t, registry, "pressledger_scheduler_batch_processed_total", map[string]string{"job": scheduler.JobStatementRollover, "resource": "customers"}))

	due, err := env.Statements.ListDue(ctx, env.Clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, sched.StatementRolloverJob(ctx))
	assert.Equal(t, float64(3), getCounterValue(t, registry, "pressledger_statement_rollovers_total", map[string]string{"result": obsmetrics.RolloverResultClosed}))
}

func TestStatementRolloverJobSkipsMismatchedCustomer(t *testing.T) {
	registry := prometheus.NewRegistry()
	defer swapPrometheusRegistry(registry)()

	env := testutil.New(t)
	ctx := context.Background()
	broken := env.Customer(t, "Broken Opening")
	healthy := env.Customer(t, "Healthy Opening")
	require.NoError(t, env.DB.Exec(`UPDATE statement_periods SET opening_balance = ? WHERE customer_id = ?`, 50, broken.ID).Error)

	env.Clock.Set(april(2, 6))
	sched := newScheduler(t, env, scheduler.Config{BatchSize: 1})
	err := sched.StatementRolloverJob(ctx)
	require.ErrorIs(t, err, statementdomain.ErrClosingBalanceMismatch)

	current, err := env.Statements.GetCurrent(ctx, broken.ID)
	require.NoError(t, err)
	assert.Nil(t, current.ClosingBalance)

	periods, err := env.Statements.List(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)

	assert.Equal(t, float64(1), getCounterValue(t, registry, "pressledger_statement_rollovers_total", map[string]string{"result": obsmetrics.RolloverResultMismatch}))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "pressledger_statement_rollovers_total", map[string]string{"result": obsmetrics.RolloverResultClosed}))
}

func TestRunOnceRespectsEnabledJobs(t *testing.T) {
	registry := prometheus.NewRegistry()
	defer swapPrometheusRegistry(registry)()

	env := testutil.New(t)
	ctx := context.Background()
	customer := env.Customer(t, "Late Payer")
	invoice := env.SentInvoice(t, customer.ID, 4200)

	env.Clock.Set(april(10, 9))
	sched := newScheduler(t, env, scheduler.Config{EnabledJobs: []string{"INVOICE_OVERDUE"}})
	require.NoError(t, sched.RunOnce(ctx))

	got, err := env.Invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, got.Status)

	assert.Equal(t, float64(1), getCounterValue(t, registry, "pressledger_scheduler_job_runs_total", map[string]string{"job": scheduler.JobInvoiceOverdue}))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "pressledger_scheduler_batch_processed_total", map[string]string{"job": scheduler.JobInvoiceOverdue, "resource": "invoices"}))
	_, ran := findCounter(t, registry, "pressledger_scheduler_job_runs_total", map[string]string{"job": scheduler.JobStatementRollover})
	assert.False(t, ran)

	periods, err := env.Statements.List(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 1)
}

func TestReconciliationSweepJobReportsDriftWithoutFailing(t *testing.T) {
	registry := prometheus.NewRegistry()
	defer swapPrometheusRegistry(registry)()

	env := testutil.New(t)
	ctx := context.Background()
	drifted := env.Customer(t, "Drifting Account")
	env.Customer(t, "Steady Account")
	require.NoError(t, env.DB.Exec(
		`UPDATE account_balances SET current_balance = ? WHERE customer_id = ?`, 99, drifted.ID,
	).Error)

	sched := newScheduler(t, env, scheduler.Config{EnabledJobs: []string{scheduler.JobReconciliationSweep}})
	require.NoError(t, sched.RunOnce(ctx))

	assert.Equal(t, float64(2), getCounterValue(t, registry, "pressledger_scheduler_batch_processed_total", map[string]string{"job": scheduler.JobReconciliationSweep, "resource": "customers"}))
	_, failed := findCounter(t, registry, "pressledger_scheduler_job_errors_total", map[string]string{"job": scheduler.JobReconciliationSweep, "reason": obsmetrics.SchedulerJobReasonUnknown})
	assert.False(t, failed)
}

func TestRunOnceTreatsDeadlineAsSoftTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	defer swapPrometheusRegistry(registry)()

	env := testutil.New(t)
	env.Customer(t, "Slow Account")
	env.Clock.Set(april(2, 6))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := newScheduler(t, env, scheduler.Config{EnabledJobs: []string{scheduler.JobStatementRollover}})
	require.NoError(t, sched.RunOnce(ctx))

	assert.Equal(t, float64(1), getCounterValue(t, registry, "pressledger_scheduler_job_timeouts_total", map[string]string{"job": scheduler.JobStatementRollover}))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "pressledger_scheduler_job_errors_total", map[string]string{"job": scheduler.JobStatementRollover, "reason": obsmetrics.SchedulerJobReasonDeadlineExceeded}))
}
