package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/pressledger/internal/observability/context"
	obslogger "github.com/smallbiznis/pressledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     ulid.Make().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = s.withLogContext(ctx, 0)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context, customerID snowflake.ID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	if customerID != 0 {
		ctx = obscontext.WithCustomerID(ctx, customerID.String())
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, customerID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	ctx = s.withLogContext(ctx, customerID)
	baseFields := []zap.Field{
		zap.String("job", job),
		zap.String("customer_id", idString(customerID)),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.String("error", err.Error()),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func (s *Scheduler) logRolledOver(ctx context.Context, customerID snowflake.ID, result statementdomain.RolloverResult) {
	ctx = s.withLogContext(ctx, customerID)
	s.logger(ctx).Info("statement.rolled_over",
		zap.Int("closed_periods", len(result.Closed)),
		zap.String("current_period_id", idString(result.Current.ID)),
		zap.Time("current_period_end", result.Current.PeriodEnd),
	)
}

func (s *Scheduler) logDrift(ctx context.Context, report reconciliationdomain.Report) {
	ctx = s.withLogContext(ctx, report.CustomerID)
	kinds := make([]string, 0, len(report.Drifts))
	for _, drift := range report.Drifts {
		kinds = append(kinds, string(drift.Kind))
	}
	s.logger(ctx).Error("reconciliation.drift",
		zap.Int64("replayed_balance", report.ReplayedBalance),
		zap.Int64("cached_balance", report.CachedBalance),
		zap.Strings("kinds", kinds),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
