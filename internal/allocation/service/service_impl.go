package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/allocation/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
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
	PaymentRepo paymentdomain.Repository
	InvoiceRepo invoicedomain.Repository
	Invoices    invoicedomain.Service
	Ledger      ledgerdomain.Service
	Balance     balancedomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	invoiceRepo invoicedomain.Repository
	invoices    invoicedomain.Service
	ledger      ledgerdomain.Service
	balance     balancedomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("allocation.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		invoiceRepo: p.InvoiceRepo,
		invoices:    p.Invoices,
		ledger:      p.Ledger,
		balance:     p.Balance,
		obsMetrics:  p.ObsMetrics,
	}
}

// plannedItem is one allocation decided before anything is written.
type plannedItem struct {
	invoiceID snowflake.ID
	amount    int64
}

func (s *Service) Allocate(ctx context.Context, paymentID snowflake.ID, targets []domain.Target) (domain.AllocationResult, error) {
	payment, err := s.paymentRepo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return domain.AllocationResult{}, err
	}
	if payment == nil {
		return domain.AllocationResult{}, domain.ErrPaymentNotFound
	}

	var result domain.AllocationResult
	err = s.balance.WithCustomerLock(ctx, payment.CustomerID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		result, err = s.AllocateTx(ctx, tx, paymentID, targets)
		return err
	})
	if err != nil {
		return domain.AllocationResult{}, err
	}
	return result, nil
}

// AllocateTx splits a completed payment across invoices, posts one payment
// row per allocation and a credit row for any remainder. The caller holds
// the customer lock; any error leaves nothing written once the caller
// rolls back.
func (s *Service) AllocateTx(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, targets []domain.Target) (domain.AllocationResult, error) {
	payment, err := s.paymentRepo.FindByID(ctx, tx, paymentID)
	if err != nil {
		return domain.AllocationResult{}, err
	}
	if payment == nil {
		return domain.AllocationResult{}, domain.ErrPaymentNotFound
	}
	if !balancedomain.HoldsLock(ctx, payment.CustomerID) {
		return domain.AllocationResult{}, balancedomain.ErrLockNotHeld
	}
	if payment.Status != paymentdomain.PaymentStatusCompleted {
		return domain.AllocationResult{}, domain.ErrPaymentNotCompleted
	}
	if payment.AllocatedAt != nil {
		return domain.AllocationResult{}, domain.ErrPaymentAlreadyAllocated
	}

	mode := domain.AllocationModeFIFO
	var plan []plannedItem
	if len(targets) > 0 {
		mode = domain.AllocationModeExplicit
		plan, err = s.planExplicit(ctx, tx, payment, targets)
	} else {
		plan, err = s.planFIFO(ctx, tx, payment)
	}
	if err != nil {
		return domain.AllocationResult{}, err
	}

	result := domain.AllocationResult{
		PaymentID:   payment.ID,
		Mode:        mode,
		Allocations: make([]domain.PaymentAllocation, 0, len(plan)),
	}

	now := s.clock.Now().UTC()
	remaining := payment.Amount
	for _, item := range plan {
		allocation, err := s.apply(ctx, tx, payment, item, now)
		if err != nil {
			return domain.AllocationResult{}, err
		}
		result.Allocations = append(result.Allocations, allocation)
		remaining -= item.amount
	}

	if remaining > 0 {
		credit, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostRequest{
			CustomerID:  payment.CustomerID,
			Type:        ledgerdomain.TransactionTypeCredit,
			Amount:      remaining,
			PaymentID:   &payment.ID,
			Description: "Unapplied payment credit",
		})
		if err != nil {
			return domain.AllocationResult{}, err
		}
		result.OverpaymentAmount = remaining
		result.CreditTransactionID = &credit.ID
	}

	if err := s.paymentRepo.MarkAllocated(ctx, tx, payment.ID, result.OverpaymentAmount, now); err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidStatus) {
			return domain.AllocationResult{}, domain.ErrPaymentAlreadyAllocated
		}
		return domain.AllocationResult{}, err
	}

	s.obsMetrics.RecordAllocation(ctx, string(mode), len(result.Allocations))
	if result.OverpaymentAmount > 0 {
		s.obsMetrics.RecordOverpayment(ctx)
	}
	s.log.Info("payment allocated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("customer_id", payment.CustomerID.String()),
		zap.String("mode", string(mode)),
		zap.Int("allocations", len(result.Allocations)),
		zap.Int64("overpayment", result.OverpaymentAmount),
	)
	return result, nil
}

// planExplicit validates every target before the first write.
func (s *Service) planExplicit(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, targets []domain.Target) ([]plannedItem, error) {
	seen := make(map[snowflake.ID]struct{}, len(targets))
	plan := make([]plannedItem, 0, len(targets))
	remaining := payment.Amount

	for _, target := range targets {
		if target.InvoiceID == 0 {
			return nil, domain.ErrInvoiceNotFound
		}
		if _, dup := seen[target.InvoiceID]; dup {
			return nil, domain.ErrDuplicateTarget
		}
		seen[target.InvoiceID] = struct{}{}

		invoice, err := s.invoiceRepo.FindByID(ctx, tx, target.InvoiceID)
		if err != nil {
			return nil, err
		}
		if invoice == nil {
			return nil, domain.ErrInvoiceNotFound
		}
		if invoice.CustomerID != payment.CustomerID {
			return nil, domain.ErrInvoiceCustomerMismatch
		}
		if !invoice.Status.Payable() {
			return nil, domain.ErrInvoiceNotPayable
		}

		due := invoice.AmountDue()
		var amount int64
		if target.Amount != nil {
			amount = *target.Amount
			if amount <= 0 {
				return nil, domain.ErrInvalidAmount
			}
			if amount > due {
				return nil, domain.ErrAllocationExceedsDue
			}
			if amount > remaining {
				return nil, domain.ErrAllocationExceedsPayment
			}
		} else {
			amount = min(due, remaining)
			if amount <= 0 {
				continue
			}
		}

		remaining -= amount
		plan = append(plan, plannedItem{invoiceID: invoice.ID, amount: amount})
	}
	return plan, nil
}

// planFIFO pays the oldest due invoices first until the payment runs out.
func (s *Service) planFIFO(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) ([]plannedItem, error) {
	outstanding, err := s.invoiceRepo.ListOutstanding(ctx, tx, payment.CustomerID)
	if err != nil {
		return nil, err
	}

	remaining := payment.Amount
	plan := make([]plannedItem, 0, len(outstanding))
	for _, invoice := range outstanding {
		if remaining <= 0 {
			break
		}
		amount := min(invoice.AmountDue(), remaining)
		if amount <= 0 {
			continue
		}
		remaining -= amount
		plan = append(plan, plannedItem{invoiceID: invoice.ID, amount: amount})
	}
	return plan, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, item plannedItem, now time.Time) (domain.PaymentAllocation, error) {
	invoice, err := s.invoices.ApplyPaymentTx(ctx, tx, item.invoiceID, item.amount, now)
	if err != nil {
		return domain.PaymentAllocation{}, mapInvoiceErr(err)
	}

	allocationID := s.genID.Generate()
	description := "Payment received"
	if invoice.InvoiceNumber != nil {
		description = "Payment for invoice " + *invoice.InvoiceNumber
	}
	posted, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostRequest{
		CustomerID:   payment.CustomerID,
		Type:         ledgerdomain.TransactionTypePayment,
		Amount:       item.amount,
		InvoiceID:    &invoice.ID,
		PaymentID:    &payment.ID,
		AllocationID: &allocationID,
		JobReference: invoice.JobReference,
		Description:  description,
	})
	if err != nil {
		return domain.PaymentAllocation{}, err
	}

	allocation := domain.PaymentAllocation{
		ID:                  allocationID,
		PaymentID:           payment.ID,
		InvoiceID:           invoice.ID,
		CustomerID:          payment.CustomerID,
		AllocatedAmount:     item.amount,
		LedgerTransactionID: posted.ID,
		CreatedAt:           now,
	}
	if err := s.repo.Insert(ctx, tx, &allocation); err != nil {
		return domain.PaymentAllocation{}, err
	}
	return allocation, nil
}

func (s *Service) ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]domain.PaymentAllocation, error) {
	if paymentID == 0 {
		return nil, domain.ErrPaymentNotFound
	}
	items, err := s.repo.ListByPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.PaymentAllocation{}
	}
	return items, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]domain.PaymentAllocation, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.PaymentAllocation{}
	}
	return items, nil
}

func mapInvoiceErr(err error) error {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return domain.ErrInvoiceNotFound
	case errors.Is(err, invoicedomain.ErrInvoiceNotPayable):
		return domain.ErrInvoiceNotPayable
	case errors.Is(err, invoicedomain.ErrAmountExceedsDue):
		return domain.ErrAllocationExceedsDue
	default:
		return err
	}
}
