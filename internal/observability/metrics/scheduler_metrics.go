package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/pressledger/pkg/db"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonDeadlock             = "deadlock"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonSkipLockedEmpty = "skip_locked_empty"
	SchedulerBatchDeferredReasonLeaseHeld       = "lease_held"
)

const (
	LockResourceAccountBalance = "account_balance"
	LockResourceDuePeriods     = "statement_periods_due"
	LockResourceJobLease       = "job_lease"
)

const (
	RolloverResultClosed   = "closed"
	RolloverResultNoop     = "noop"
	RolloverResultMismatch = "mismatch"
	RolloverResultFailed   = "failed"
)

// SchedulerMetrics captures scheduler health signals.
type SchedulerMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	batchProcessed   *prometheus.CounterVec
	batchDeferred    *prometheus.CounterVec
	runLoopLag       prometheus.Observer
	dbLockWait       *prometheus.HistogramVec
	rollovers        *prometheus.CounterVec
	lockWaitObserver map[string]prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

// NewSchedulerMetricsForTest builds scheduler metrics on a private registry.
func NewSchedulerMetricsForTest(registerer prometheus.Registerer) *SchedulerMetrics {
	return newSchedulerMetrics(registerer, Config{ServiceName: "pressledger", Environment: "test"})
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pressledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "pressledger_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_scheduler_job_timeouts_total",
		Help:        "Scheduler job runs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_scheduler_batch_processed_total",
		Help:        "Scheduler batch items processed.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_scheduler_batch_deferred_total",
		Help:        "Scheduler batch deferrals by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "pressledger_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "pressledger_scheduler_db_lock_wait_seconds",
		Help:        "Scheduler lock wait time for SELECT FOR UPDATE and lease acquisition.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})
	rollovers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_statement_rollovers_total",
		Help:        "Statement period rollovers by result. Mismatches need an operator.",
		ConstLabels: constLabels,
	}, []string{"result"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		batchDeferred,
		runLoopLag,
		dbLockWait,
		rollovers,
	)

	lockWaitObserver := map[string]prometheus.Observer{
		LockResourceAccountBalance: dbLockWait.WithLabelValues(LockResourceAccountBalance),
		LockResourceDuePeriods:     dbLockWait.WithLabelValues(LockResourceDuePeriods),
		LockResourceJobLease:       dbLockWait.WithLabelValues(LockResourceJobLease),
	}

	return &SchedulerMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		batchProcessed:   batchProcessed,
		batchDeferred:    batchDeferred,
		runLoopLag:       runLoopLag,
		dbLockWait:       dbLockWait,
		rollovers:        rollovers,
		lockWaitObserver: lockWaitObserver,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// IncBatchDeferred increments the batch deferred counter for a job and reason.
func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m == nil || m.batchDeferred == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// IncRollover counts statement rollover outcomes.
func (m *SchedulerMetrics) IncRollover(result string) {
	if m == nil || m.rollovers == nil {
		return
	}
	m.rollovers.WithLabelValues(result).Inc()
}

// ClassifySchedulerErrorType returns a low-cardinality error type for logging.
func ClassifySchedulerErrorType(err error) string {
	if err == nil {
		return SchedulerErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerErrorTypeDeadlineExceeded
	}
	if isDBError(err) {
		return SchedulerErrorTypeDB
	}
	return SchedulerErrorTypeBusinessRule
}

// IsSchedulerErrorRetryable reports whether the scheduler error should be retried.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return db.IsRetryable(err)
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsLockTimeout(err):
		return SchedulerJobReasonDBLockTimeout
	case db.IsSerializationFailure(err):
		return SchedulerJobReasonSerializationFailure
	case db.IsDeadlock(err):
		return SchedulerJobReasonDeadlock
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	default:
		return SchedulerJobReasonUnknown
	}
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return db.IsDriverError(err)
}
