package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	"github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 100

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	LedgerRepo    ledgerdomain.Repository
	StatementRepo statementdomain.Repository
	BalanceRepo   balancedomain.Repository
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	ledgerRepo    ledgerdomain.Repository
	statementRepo statementdomain.Repository
	balanceRepo   balancedomain.Repository
	obsMetrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("reconciliation.service"),
		ledgerRepo:    p.LedgerRepo,
		statementRepo: p.StatementRepo,
		balanceRepo:   p.BalanceRepo,
		obsMetrics:    p.ObsMetrics,
	}
}

// Verify replays a customer's ledger from its first row and compares the
// result with the statement periods and the balance cache. It never writes.
func (s *Service) Verify(ctx context.Context, customerID snowflake.ID) (domain.Report, error) {
	if customerID == 0 {
		return domain.Report{}, domain.ErrInvalidCustomer
	}

	var (
		cache   *balancedomain.AccountBalance
		rows    []ledgerdomain.LedgerTransaction
		periods []statementdomain.StatementPeriod
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cache, err = s.balanceRepo.FindByCustomer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if cache == nil {
			return domain.ErrAccountNotFound
		}
		rows, err = s.ledgerRepo.ListAllByCustomer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		periods, err = s.statementRepo.ListByCustomer(ctx, tx, customerID)
		return err
	}, pkgdb.ReadOnlyTxOptions(s.db))
	if err != nil {
		return domain.Report{}, err
	}

	report := check(customerID, *cache, rows, periods)
	if !report.OK {
		for _, d := range report.Drifts {
			s.obsMetrics.RecordDrift(ctx, string(d.Kind))
		}
		s.log.Error("ledger drift detected",
			zap.String("customer_id", customerID.String()),
			zap.Int("drifts", len(report.Drifts)),
			zap.Int64("replayed_balance", report.ReplayedBalance),
			zap.Int64("cached_balance", report.CachedBalance),
			zap.Stringp("first_divergent_transaction_id", idString(report.FirstDivergentTransactionID)),
		)
	}
	return report, nil
}

// VerifyAll checks every account in id order. A customer that cannot be
// read is counted and the sweep moves on.
func (s *Service) VerifyAll(ctx context.Context, batchSize int) (domain.SweepResult, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	result := domain.SweepResult{Reports: []domain.Report{}}
	var (
		errs    []error
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ids, err := s.balanceRepo.ListCustomerIDs(ctx, s.db, afterID, batchSize)
		if err != nil {
			errs = append(errs, err)
			break
		}
		for _, id := range ids {
			report, err := s.Verify(ctx, id)
			if err != nil {
				result.Failed++
				errs = append(errs, fmt.Errorf("customer %s: %w", id, err))
				continue
			}
			result.Checked++
			if !report.OK {
				result.Drifted++
				result.Reports = append(result.Reports, report)
			}
		}
		if len(ids) < batchSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	s.log.Info("reconciliation sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("drifted", result.Drifted),
		zap.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	v := id.String()
	return &v
}
