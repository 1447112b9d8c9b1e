package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/config"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	"github.com/smallbiznis/pressledger/internal/statement/domain"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"github.com/smallbiznis/pressledger/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	LedgerRepo  ledgerdomain.Repository
	InvoiceRepo invoicedomain.Repository
	Balance     balancedomain.Service
	Aging       *config.StatementConfigHolder `optional:"true"`
	Audit       auditdomain.Service           `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cycle       domain.Cycle
	currency    string
	repo        domain.Repository
	ledgerRepo  ledgerdomain.Repository
	invoiceRepo invoicedomain.Repository
	balance     balancedomain.Service
	aging       *config.StatementConfigHolder
	audit       auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) (domain.Service, error) {
	cycle, err := domain.ParseCycle(p.Cfg.Ledger.StatementCycle)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("statement.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cycle:       cycle,
		currency:    p.Cfg.Ledger.Currency,
		repo:        p.Repo,
		ledgerRepo:  p.LedgerRepo,
		invoiceRepo: p.InvoiceRepo,
		balance:     p.Balance,
		aging:       p.Aging,
		audit:       p.Audit,
		obsMetrics:  p.ObsMetrics,
	}, nil
}

func (s *Service) CloseCurrentPeriod(ctx context.Context, customerID snowflake.ID, asOf time.Time) (domain.StatementPeriod, error) {
	var (
		closed domain.StatementPeriod
		wrote  bool
	)
	err := s.balance.WithCustomerLock(ctx, customerID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		closed, wrote, err = s.closeCurrent(ctx, tx, customerID, asOf)
		return err
	})
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if wrote {
		s.auditClosed(ctx, closed)
	}
	return closed, nil
}

func (s *Service) CloseCurrentPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, asOf time.Time) (domain.StatementPeriod, error) {
	closed, _, err := s.closeCurrent(ctx, tx, customerID, asOf)
	return closed, err
}

func (s *Service) closeCurrent(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, asOf time.Time) (domain.StatementPeriod, bool, error) {
	if err := s.requireLock(ctx, customerID); err != nil {
		return domain.StatementPeriod{}, false, err
	}
	if asOf.IsZero() {
		return domain.StatementPeriod{}, false, domain.ErrInvalidAsOf
	}
	asOf = normalize(asOf)

	current, err := s.repo.FindCurrent(ctx, tx, customerID)
	if err != nil {
		return domain.StatementPeriod{}, false, err
	}

	// A retried close finds its period already closed and the successor open.
	if current == nil || !current.PeriodStart.Before(asOf) {
		prior, err := s.repo.FindClosedEndingAt(ctx, tx, customerID, asOf)
		if err != nil {
			return domain.StatementPeriod{}, false, err
		}
		if prior != nil {
			s.obsMetrics.RecordPeriodClose(ctx, "noop")
			return *prior, false, nil
		}
	}
	if current == nil {
		return domain.StatementPeriod{}, false, domain.ErrNoOpenPeriod
	}

	now := s.now()
	if !asOf.After(current.PeriodStart) || asOf.After(now) || asOf.After(current.PeriodEnd) {
		return domain.StatementPeriod{}, false, domain.ErrInvalidAsOf
	}

	closed, err := s.closeTx(ctx, tx, *current, asOf, now)
	if err != nil {
		return domain.StatementPeriod{}, false, err
	}
	return closed, true, nil
}

// closeTx seals period at asOf after checking that its stored opening plus
// the sums of its rows equals the ledger's running balance at the cutoff.
func (s *Service) closeTx(ctx context.Context, tx *gorm.DB, period domain.StatementPeriod, asOf, now time.Time) (domain.StatementPeriod, error) {
	late, err := s.ledgerRepo.CountInPeriodFrom(ctx, tx, period.ID, asOf)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if late > 0 {
		return domain.StatementPeriod{}, domain.ErrTransactionsAfterCutoff
	}

	sums, err := s.ledgerRepo.SumByPeriod(ctx, tx, period.ID)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	computed := period.OpeningBalance + sums.Net()

	var (
		ledgerBalance int64
		lastID        snowflake.ID
	)
	last, err := s.ledgerRepo.FindLastBefore(ctx, tx, period.CustomerID, asOf)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if last != nil {
		ledgerBalance = last.RunningBalance
		lastID = last.ID
	}

	if computed != ledgerBalance {
		s.obsMetrics.RecordPeriodClose(ctx, "mismatch")
		s.log.Error("closing balance mismatch",
			zap.String("customer_id", period.CustomerID.String()),
			zap.String("period_id", period.ID.String()),
			zap.Int64("computed", computed),
			zap.Int64("ledger_balance", ledgerBalance),
			zap.String("last_transaction_id", lastID.String()),
		)
		return domain.StatementPeriod{}, &domain.ClosingBalanceMismatchError{
			PeriodID:          period.ID,
			CustomerID:        period.CustomerID,
			Computed:          computed,
			LedgerBalance:     ledgerBalance,
			LastTransactionID: lastID,
		}
	}

	update := domain.CloseUpdate{
		PeriodID:         period.ID,
		PeriodEnd:        asOf,
		ClosingBalance:   computed,
		TotalCharges:     sums.Charges,
		TotalPayments:    sums.Payments,
		TotalAdjustments: sums.Adjustments,
		ClosedAt:         now,
	}
	if err := s.repo.Close(ctx, tx, update); err != nil {
		return domain.StatementPeriod{}, err
	}

	period.PeriodEnd = asOf
	period.ClosingBalance = &computed
	period.TotalCharges = sums.Charges
	period.TotalPayments = sums.Payments
	period.TotalAdjustments = sums.Adjustments
	period.IsCurrentPeriod = false
	period.ClosedAt = &now
	period.UpdatedAt = now

	s.obsMetrics.RecordPeriodClose(ctx, "closed")
	s.log.Info("statement period closed",
		zap.String("customer_id", period.CustomerID.String()),
		zap.String("period_id", period.ID.String()),
		zap.Time("period_end", asOf),
		zap.Int64("closing_balance", computed),
	)
	return period, nil
}

func (s *Service) OpenNextPeriod(ctx context.Context, customerID snowflake.ID, periodStart time.Time) (domain.StatementPeriod, error) {
	var opened domain.StatementPeriod
	err := s.balance.WithCustomerLock(ctx, customerID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		opened, err = s.OpenNextPeriodTx(ctx, tx, customerID, periodStart)
		return err
	})
	return opened, err
}

func (s *Service) OpenNextPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, periodStart time.Time) (domain.StatementPeriod, error) {
	if err := s.requireLock(ctx, customerID); err != nil {
		return domain.StatementPeriod{}, err
	}
	if periodStart.IsZero() {
		return domain.StatementPeriod{}, domain.ErrInvalidPeriodStart
	}
	start := normalize(periodStart)

	current, err := s.repo.FindCurrent(ctx, tx, customerID)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if current != nil {
		if current.PeriodStart.Equal(start) {
			return *current, nil
		}
		return domain.StatementPeriod{}, domain.ErrPeriodAlreadyOpen
	}

	last, err := s.repo.FindLatest(ctx, tx, customerID)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if last == nil || last.ClosingBalance == nil {
		return domain.StatementPeriod{}, domain.ErrPeriodNotFound
	}
	if !last.PeriodEnd.Equal(start) {
		return domain.StatementPeriod{}, domain.ErrPeriodNotContiguous
	}

	return s.openTx(ctx, tx, customerID, start, *last.ClosingBalance)
}

func (s *Service) Rollover(ctx context.Context, customerID snowflake.ID, now time.Time) (domain.RolloverResult, error) {
	if now.IsZero() {
		now = s.now()
	}
	now = normalize(now)
	if now.After(s.now()) {
		return domain.RolloverResult{}, domain.ErrInvalidAsOf
	}

	var result domain.RolloverResult
	err := s.balance.WithCustomerLock(ctx, customerID, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.requireLock(ctx, customerID); err != nil {
			return err
		}
		current, closed, err := s.ensureCurrent(ctx, tx, customerID, now)
		if err != nil {
			return err
		}
		result = domain.RolloverResult{Closed: closed, Current: current}
		return nil
	})
	if err != nil {
		return domain.RolloverResult{}, err
	}
	if result.Closed == nil {
		result.Closed = []domain.StatementPeriod{}
	}
	for _, period := range result.Closed {
		s.auditClosed(ctx, period)
	}
	return result, nil
}

func (s *Service) EnsureCurrentPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, at time.Time) (domain.StatementPeriod, error) {
	if err := s.requireLock(ctx, customerID); err != nil {
		return domain.StatementPeriod{}, err
	}
	current, _, err := s.ensureCurrent(ctx, tx, customerID, normalize(at))
	return current, err
}

// ensureCurrent heals a missing current period, then closes and reopens
// until the current period covers at.
func (s *Service) ensureCurrent(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, at time.Time) (domain.StatementPeriod, []domain.StatementPeriod, error) {
	current, err := s.repo.FindCurrent(ctx, tx, customerID)
	if err != nil {
		return domain.StatementPeriod{}, nil, err
	}
	if current == nil {
		last, err := s.repo.FindLatest(ctx, tx, customerID)
		if err != nil {
			return domain.StatementPeriod{}, nil, err
		}
		if last == nil || last.ClosingBalance == nil {
			return domain.StatementPeriod{}, nil, domain.ErrNoOpenPeriod
		}
		opened, err := s.openTx(ctx, tx, customerID, last.PeriodEnd, *last.ClosingBalance)
		if err != nil {
			return domain.StatementPeriod{}, nil, err
		}
		s.log.Warn("reopened missing current period",
			zap.String("customer_id", customerID.String()),
			zap.Time("period_start", opened.PeriodStart),
		)
		current = &opened
	}

	var closed []domain.StatementPeriod
	for !at.Before(current.PeriodEnd) {
		sealed, err := s.closeTx(ctx, tx, *current, current.PeriodEnd, s.now())
		if err != nil {
			return domain.StatementPeriod{}, closed, err
		}
		closed = append(closed, sealed)

		next, err := s.openTx(ctx, tx, customerID, sealed.PeriodEnd, *sealed.ClosingBalance)
		if err != nil {
			return domain.StatementPeriod{}, closed, err
		}
		current = &next
	}
	return *current, closed, nil
}

func (s *Service) OpenInitialPeriodTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, openedAt time.Time) (domain.StatementPeriod, error) {
	if customerID == 0 {
		return domain.StatementPeriod{}, domain.ErrInvalidCustomer
	}
	if openedAt.IsZero() {
		openedAt = s.now()
	}
	existing, err := s.repo.FindLatest(ctx, tx, customerID)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if existing != nil {
		return domain.StatementPeriod{}, domain.ErrPeriodAlreadyOpen
	}
	return s.openTx(ctx, tx, customerID, normalize(openedAt), 0)
}

func (s *Service) openTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, start time.Time, opening int64) (domain.StatementPeriod, error) {
	now := s.now()
	period := domain.StatementPeriod{
		ID:              s.genID.Generate(),
		CustomerID:      customerID,
		PeriodStart:     start,
		PeriodEnd:       s.cycle.NextBoundary(start),
		OpeningBalance:  opening,
		IsCurrentPeriod: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, tx, &period); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.StatementPeriod{}, domain.ErrPeriodAlreadyOpen
		}
		return domain.StatementPeriod{}, err
	}
	s.log.Debug("statement period opened",
		zap.String("customer_id", customerID.String()),
		zap.String("period_id", period.ID.String()),
		zap.Time("period_start", period.PeriodStart),
		zap.Time("period_end", period.PeriodEnd),
	)
	return period, nil
}

func (s *Service) GetCurrent(ctx context.Context, customerID snowflake.ID) (domain.StatementPeriod, error) {
	if customerID == 0 {
		return domain.StatementPeriod{}, domain.ErrInvalidCustomer
	}
	current, err := s.repo.FindCurrent(ctx, s.db, customerID)
	if err != nil {
		return domain.StatementPeriod{}, err
	}
	if current == nil {
		return domain.StatementPeriod{}, domain.ErrNoOpenPeriod
	}
	return *current, nil
}

func (s *Service) List(ctx context.Context, customerID snowflake.ID) ([]domain.StatementPeriod, error) {
	if customerID == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	periods, err := s.repo.ListByCustomer(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if periods == nil {
		periods = []domain.StatementPeriod{}
	}
	return periods, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.StatementPeriod, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListDue(ctx, s.db, normalize(now), limit)
}

func (s *Service) requireLock(ctx context.Context, customerID snowflake.ID) error {
	if customerID == 0 {
		return domain.ErrInvalidCustomer
	}
	if !balancedomain.HoldsLock(ctx, customerID) {
		return balancedomain.ErrLockNotHeld
	}
	return nil
}

func (s *Service) auditClosed(ctx context.Context, period domain.StatementPeriod) {
	if s.audit == nil {
		return
	}
	var closing int64
	if period.ClosingBalance != nil {
		closing = *period.ClosingBalance
	}
	_ = s.audit.AuditLog(ctx, auditdomain.Entry{
		CustomerID: period.CustomerID,
		Action:     "statement.period_closed",
		TargetType: "statement_period",
		TargetID:   period.ID.String(),
		Metadata: map[string]any{
			"period_start":    period.PeriodStart.Format(time.RFC3339),
			"period_end":      period.PeriodEnd.Format(time.RFC3339),
			"closing_balance": money.Format(closing),
			"currency":        s.currency,
		},
	})
}

func (s *Service) now() time.Time {
	return normalize(s.clock.Now())
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
