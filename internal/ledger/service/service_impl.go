package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	"github.com/smallbiznis/pressledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"github.com/smallbiznis/pressledger/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Balance     balancedomain.Service
	BalanceRepo balancedomain.Repository
	InvoiceRepo invoicedomain.Repository
	Statements  statementdomain.Service
	Audit       auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	balance     balancedomain.Service
	balanceRepo balancedomain.Repository
	invoiceRepo invoicedomain.Repository
	statements  statementdomain.Service
	audit       auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		balance:     p.Balance,
		balanceRepo: p.BalanceRepo,
		invoiceRepo: p.InvoiceRepo,
		statements:  p.Statements,
		audit:       p.Audit,
		obsMetrics:  p.ObsMetrics,
	}
}

// Post appends one row under the customer lock. Operator adjustments are
// audited once the transaction commits.
func (s *Service) Post(ctx context.Context, req domain.PostRequest) (domain.LedgerTransaction, error) {
	if req.CustomerID == 0 {
		return domain.LedgerTransaction{}, domain.ErrInvalidCustomer
	}

	var posted domain.LedgerTransaction
	err := s.balance.WithCustomerLock(ctx, req.CustomerID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		posted, err = s.PostTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.LedgerTransaction{}, err
	}

	if posted.TransactionType == domain.TransactionTypeAdjustment && s.audit != nil {
		_ = s.audit.AuditLog(ctx, auditdomain.Entry{
			CustomerID: posted.CustomerID,
			Action:     "ledger.adjustment_posted",
			TargetType: "ledger_transaction",
			TargetID:   posted.ID.String(),
			Metadata: map[string]any{
				"amount":          money.Format(posted.Amount),
				"running_balance": money.Format(posted.RunningBalance),
				"description":     posted.Description,
			},
		})
	}
	return posted, nil
}

// PostTx appends one row inside a transaction that already holds the
// customer lock, keeping the balance cache and the statement period in step.
func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, req domain.PostRequest) (domain.LedgerTransaction, error) {
	if req.CustomerID == 0 {
		return domain.LedgerTransaction{}, domain.ErrInvalidCustomer
	}
	if !req.Type.Valid() {
		return domain.LedgerTransaction{}, domain.ErrInvalidTransactionType
	}
	signed, err := domain.SignedAmount(req.Type, req.Amount)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	if !balancedomain.HoldsLock(ctx, req.CustomerID) {
		return domain.LedgerTransaction{}, balancedomain.ErrLockNotHeld
	}

	cache, err := s.balanceRepo.FindByCustomer(ctx, tx, req.CustomerID)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	if cache == nil {
		return domain.LedgerTransaction{}, balancedomain.ErrAccountNotFound
	}

	last, err := s.repo.FindLast(ctx, tx, req.CustomerID)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	var (
		previous int64
		sequence int64 = 1
	)
	if last != nil {
		previous = last.RunningBalance
		sequence = last.Sequence + 1
	}

	if cache.CurrentBalance != previous {
		s.obsMetrics.RecordDrift(ctx, "cache_balance")
		s.log.Error("balance cache drift",
			zap.String("customer_id", req.CustomerID.String()),
			zap.Int64("cached_balance", cache.CurrentBalance),
			zap.Int64("ledger_balance", previous),
		)
		return domain.LedgerTransaction{}, fmt.Errorf("%w: cached %d, ledger %d", domain.ErrBalanceCacheDrift, cache.CurrentBalance, previous)
	}

	if req.Type == domain.TransactionTypeCharge && req.InvoiceID != nil {
		existing, err := s.repo.FindChargeByInvoice(ctx, tx, *req.InvoiceID)
		if err != nil {
			return domain.LedgerTransaction{}, err
		}
		if existing != nil {
			return domain.LedgerTransaction{}, domain.ErrDuplicateCharge
		}
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	if last != nil && now.Before(last.TransactionDate) {
		now = last.TransactionDate.UTC()
	}

	period, err := s.statements.EnsureCurrentPeriodTx(ctx, tx, req.CustomerID, now)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	if now.Before(period.PeriodStart) {
		now = period.PeriodStart
	}

	txn := domain.LedgerTransaction{
		ID:                s.genID.Generate(),
		CustomerID:        req.CustomerID,
		Sequence:          sequence,
		TransactionType:   req.Type,
		Amount:            signed,
		RunningBalance:    previous + signed,
		InvoiceID:         req.InvoiceID,
		PaymentID:         req.PaymentID,
		AllocationID:      req.AllocationID,
		JobReference:      normalizePointer(req.JobReference),
		Description:       strings.TrimSpace(req.Description),
		StatementPeriodID: period.ID,
		TransactionDate:   now,
		CreatedAt:         s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, tx, &txn); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) && req.Type == domain.TransactionTypeCharge {
			return domain.LedgerTransaction{}, domain.ErrDuplicateCharge
		}
		return domain.LedgerTransaction{}, err
	}

	outstanding, err := s.invoiceRepo.CountOutstanding(ctx, tx, req.CustomerID)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}

	if err := s.balanceRepo.ApplyPosting(ctx, tx, balancedomain.Posting{
		CustomerID:          req.CustomerID,
		CurrentBalance:      txn.RunningBalance,
		OutstandingInvoices: outstanding,
		TransactionDate:     txn.TransactionDate,
		UpdatedAt:           txn.CreatedAt,
	}); err != nil {
		return domain.LedgerTransaction{}, err
	}

	s.obsMetrics.RecordLedgerTransaction(ctx, string(txn.TransactionType), txn.Amount)
	s.log.Debug("ledger transaction posted",
		zap.String("customer_id", txn.CustomerID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("type", string(txn.TransactionType)),
		zap.Int64("sequence", txn.Sequence),
		zap.Int64("amount", txn.Amount),
		zap.Int64("running_balance", txn.RunningBalance),
	)
	return txn, nil
}

// OpenAccountTx creates the balance row and the first statement period.
func (s *Service) OpenAccountTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, creditLimit int64, openedAt time.Time) (balancedomain.AccountBalance, error) {
	if customerID == 0 {
		return balancedomain.AccountBalance{}, domain.ErrInvalidCustomer
	}
	if creditLimit < 0 {
		return balancedomain.AccountBalance{}, balancedomain.ErrInvalidCreditLim
	}
	if openedAt.IsZero() {
		openedAt = s.clock.Now()
	}
	openedAt = openedAt.UTC().Truncate(time.Microsecond)

	existing, err := s.balanceRepo.FindByCustomer(ctx, tx, customerID)
	if err != nil {
		return balancedomain.AccountBalance{}, err
	}
	if existing != nil {
		return balancedomain.AccountBalance{}, balancedomain.ErrAccountExists
	}

	account := balancedomain.AccountBalance{
		CustomerID:  customerID,
		CreditLimit: creditLimit,
		CreatedAt:   openedAt,
		UpdatedAt:   openedAt,
	}
	if err := s.balanceRepo.Insert(ctx, tx, &account); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return balancedomain.AccountBalance{}, balancedomain.ErrAccountExists
		}
		return balancedomain.AccountBalance{}, err
	}

	if _, err := s.statements.OpenInitialPeriodTx(ctx, tx, customerID, openedAt); err != nil {
		return balancedomain.AccountBalance{}, err
	}
	return account, nil
}

func (s *Service) SetCreditLimit(ctx context.Context, customerID snowflake.ID, limit int64) (balancedomain.AccountBalance, error) {
	if customerID == 0 {
		return balancedomain.AccountBalance{}, domain.ErrInvalidCustomer
	}
	if limit < 0 {
		return balancedomain.AccountBalance{}, balancedomain.ErrInvalidCreditLim
	}

	var updated balancedomain.AccountBalance
	err := s.balance.WithCustomerLock(ctx, customerID, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.balanceRepo.UpdateCreditLimit(ctx, tx, customerID, limit, s.clock.Now().UTC()); err != nil {
			return err
		}
		row, err := s.balanceRepo.FindByCustomer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if row == nil {
			return balancedomain.ErrAccountNotFound
		}
		updated = *row
		return nil
	})
	return updated, err
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	if req.CustomerID == 0 {
		return domain.ListTransactionsResponse{}, domain.ErrInvalidCustomer
	}

	filter := domain.ListFilter{
		CustomerID: req.CustomerID,
		Limit:      req.Limit(),
	}
	if raw := strings.TrimSpace(req.Type); raw != "" {
		t := domain.TransactionType(strings.ToLower(raw))
		if !t.Valid() {
			return domain.ListTransactionsResponse{}, domain.ErrInvalidTransactionType
		}
		filter.Type = t
	}
	if raw := strings.TrimSpace(req.PeriodID); raw != "" {
		periodID, err := snowflake.ParseString(raw)
		if err != nil || periodID == 0 {
			return domain.ListTransactionsResponse{}, domain.ErrInvalidPeriod
		}
		filter.PeriodID = periodID
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListTransactionsResponse{}, err
		}
		if cursor.Sequence <= 0 {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		filter.AfterSequence = cursor.Sequence
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, filter.Limit, func(t *domain.LedgerTransaction) pagination.Cursor {
		return pagination.Cursor{Sequence: t.Sequence}
	})
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	out := make([]domain.LedgerTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return domain.ListTransactionsResponse{PageInfo: *pageInfo, Transactions: out}, nil
}

func (s *Service) ListByPeriod(ctx context.Context, periodID snowflake.ID) ([]domain.LedgerTransaction, error) {
	if periodID == 0 {
		return nil, domain.ErrInvalidPeriod
	}
	rows, err := s.repo.ListByPeriod(ctx, s.db, periodID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.LedgerTransaction{}
	}
	return rows, nil
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
