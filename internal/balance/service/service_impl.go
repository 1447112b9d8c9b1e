package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/config"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultLockTimeout = 5 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        domain.Repository
	lockTimeout time.Duration
	obsMetrics  *obsmetrics.Metrics
	schedMetric *obsmetrics.SchedulerMetrics
}

func New(p Params) domain.Service {
	timeout := p.Cfg.Ledger.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("balance.service"),
		repo:        p.Repo,
		lockTimeout: timeout,
		obsMetrics:  p.ObsMetrics,
		schedMetric: obsmetrics.Scheduler(),
	}
}

func (s *Service) Get(ctx context.Context, customerID snowflake.ID) (domain.AccountBalance, error) {
	if customerID == 0 {
		return domain.AccountBalance{}, domain.ErrInvalidCustomer
	}
	balance, err := s.repo.FindByCustomer(ctx, s.db, customerID)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	if balance == nil {
		return domain.AccountBalance{}, domain.ErrAccountNotFound
	}
	return *balance, nil
}

// WithCustomerLock runs fn in one transaction holding the customer's
// account_balances row lock. A ctx that already holds the same customer's
// lock reuses its transaction.
func (s *Service) WithCustomerLock(ctx context.Context, customerID snowflake.ID, fn domain.LockedFunc) error {
	if customerID == 0 {
		return domain.ErrInvalidCustomer
	}
	if heldID, tx, ok := domain.LockedTx(ctx); ok {
		if heldID != customerID {
			return domain.ErrNestedLock
		}
		return fn(ctx, tx)
	}

	// One deadline covers both waits: for a pooled connection and for the
	// row lock.
	start := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	tx, release, err := pkgdb.BeginTx(ctx, lockCtx, s.db, nil)
	if err != nil {
		return s.lockFailed(ctx, customerID, time.Since(start), err)
	}
	defer release()

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := pkgdb.SetLocalLockTimeout(ctx, tx, s.lockTimeout); err != nil {
		return err
	}

	row, err := s.repo.LockForUpdate(lockCtx, tx, customerID)
	cancel()
	wait := time.Since(start)
	if err != nil {
		return s.lockFailed(ctx, customerID, wait, err)
	}
	s.observeLockWait(ctx, wait, "acquired")
	if row == nil {
		return domain.ErrAccountNotFound
	}

	if err := fn(domain.ContextWithLock(ctx, customerID, tx), tx); err != nil {
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Service) lockFailed(ctx context.Context, customerID snowflake.ID, wait time.Duration, err error) error {
	if !s.isLockTimeout(ctx, err) {
		return err
	}
	s.observeLockWait(ctx, wait, "timeout")
	s.log.Warn("customer lock timeout",
		zap.String("customer_id", customerID.String()),
		zap.Duration("waited", wait),
	)
	return domain.ErrLockTimeout
}

func (s *Service) HoldsLock(ctx context.Context, customerID snowflake.ID) bool {
	return domain.HoldsLock(ctx, customerID)
}

// isLockTimeout separates our own lock deadline from the caller giving up.
func (s *Service) isLockTimeout(ctx context.Context, err error) bool {
	if pkgdb.IsLockTimeout(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

func (s *Service) observeLockWait(ctx context.Context, wait time.Duration, result string) {
	s.obsMetrics.ObserveLockWait(ctx, wait, result)
	s.schedMetric.ObserveDBLockWait(obsmetrics.LockResourceAccountBalance, wait)
}
