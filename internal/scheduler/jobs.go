package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"go.uber.org/zap"
)

// StatementRolloverJob closes every current period whose end has passed.
// Customers that fail are skipped for the rest of the run so one bad
// account never blocks the batch.
func (s *Scheduler) StatementRolloverJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobStatementRollover, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	skipped := make(map[snowflake.ID]struct{})
	var jobErr error

	for batch := 0; batch < s.cfg.MaxRolloverBatches; batch++ {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		// skipped customers stay due, so widen the window past them
		limit := s.cfg.BatchSize + len(skipped)
		due, err := s.statements.ListDue(ctx, now, limit)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.rollover.list_due.failed", JobStatementRollover, 0, err)
			return errors.Join(jobErr, err)
		}

		attempted, progressed := 0, 0
		for _, period := range due {
			if _, skip := skipped[period.CustomerID]; skip {
				continue
			}
			attempted++
			result, err := s.statements.Rollover(ctx, period.CustomerID, now)
			if err != nil {
				skipped[period.CustomerID] = struct{}{}
				jobErr = errors.Join(jobErr, err)
				if errors.Is(err, statementdomain.ErrClosingBalanceMismatch) {
					schedMetrics.IncRollover(obsmetrics.RolloverResultMismatch)
				} else {
					schedMetrics.IncRollover(obsmetrics.RolloverResultFailed)
				}
				s.logSchedulerError(ctx, run, "scheduler.rollover.failed", JobStatementRollover, period.CustomerID, err,
					zap.String("period_id", idString(period.ID)),
					zap.Time("period_end", period.PeriodEnd),
				)
				continue
			}

			progressed++
			if len(result.Closed) == 0 {
				schedMetrics.IncRollover(obsmetrics.RolloverResultNoop)
				continue
			}
			schedMetrics.IncRollover(obsmetrics.RolloverResultClosed)
			run.AddProcessed(len(result.Closed))
			s.logRolledOver(ctx, period.CustomerID, result)
		}
		schedMetrics.AddBatchProcessed(JobStatementRollover, "customers", progressed)

		if attempted == 0 || len(due) < limit {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) InvoiceOverdueJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInvoiceOverdue, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	count, err := s.invoices.MarkOverdue(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoice_overdue.failed", JobInvoiceOverdue, 0, err)
		return err
	}
	run.AddProcessed(int(count))
	obsmetrics.Scheduler().AddBatchProcessed(JobInvoiceOverdue, "invoices", int(count))
	return nil
}

// ReconciliationSweepJob replays every account. Drift is reported, not
// repaired, and does not fail the job.
func (s *Scheduler) ReconciliationSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconciliationSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.reconciliation.VerifyAll(ctx, s.cfg.BatchSize)
	run.AddProcessed(result.Checked)
	obsmetrics.Scheduler().AddBatchProcessed(JobReconciliationSweep, "customers", result.Checked)
	for _, report := range result.Reports {
		s.logDrift(ctx, report)
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reconciliation.failed", JobReconciliationSweep, 0, err,
			zap.Int("failed", result.Failed),
		)
		return err
	}
	return nil
}
