package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	"github.com/smallbiznis/pressledger/internal/lease"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log            *zap.Logger
	Clock          clock.Clock
	Statements     statementdomain.Service
	Invoices       invoicedomain.Service
	Reconciliation reconciliationdomain.Service
	Leases         *lease.JobLeases `optional:"true"`
	Config         Config           `optional:"true"`
}

type Scheduler struct {
	log            *zap.Logger
	cfg            Config
	clock          clock.Clock
	statements     statementdomain.Service
	invoices       invoicedomain.Service
	reconciliation reconciliationdomain.Service
	leases         *lease.JobLeases
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Statements == nil || p.Invoices == nil || p.Reconciliation == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            p.Config.withDefaults(),
		clock:          p.Clock,
		statements:     p.Statements,
		invoices:       p.Invoices,
		reconciliation: p.Reconciliation,
		leases:         p.Leases,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	schedMetrics := obsmetrics.Scheduler()

	release, ok, err := s.acquireLease(parent, name)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: lease: %w", name, err)
	}
	if !ok {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLeaseHeld)
		s.log.Debug("job lease held elsewhere", zap.String("job", name))
		return nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditdomain.ContextWithActor(ctx, auditdomain.ActorTypeSystem, "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) acquireLease(ctx context.Context, name string) (func(), bool, error) {
	if !s.leases.Enabled() {
		return func() {}, true, nil
	}
	start := time.Now()
	release, ok, err := s.leases.Acquire(ctx, name)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceJobLease, time.Since(start))
	return release, ok, err
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobStatementRollover, s.isJobEnabled(JobStatementRollover), func(ctx context.Context) error {
			return s.runJob(ctx, JobStatementRollover, s.cfg.BatchSize, s.cfg.RolloverTimeout, s.StatementRolloverJob)
		}},
		{JobInvoiceOverdue, s.isJobEnabled(JobInvoiceOverdue), func(ctx context.Context) error {
			return s.runJob(ctx, JobInvoiceOverdue, s.cfg.BatchSize, s.cfg.OverdueTimeout, s.InvoiceOverdueJob)
		}},
		{JobReconciliationSweep, s.isJobEnabled(JobReconciliationSweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobReconciliationSweep, s.cfg.BatchSize, s.cfg.ReconciliationTimeout, s.ReconciliationSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if lag := tick.Sub(nextRun); lag > 0 {
				schedMetrics.ObserveRunLoopLag(lag)
			}
			nextRun = tick.Add(s.cfg.RunInterval)
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list runs every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
