package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/config"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	"github.com/smallbiznis/pressledger/internal/invoice/format"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"github.com/smallbiznis/pressledger/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     invoicedomain.Repository
	Balance  balancedomain.Service
	Ledger   ledgerdomain.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	template     string
	paymentTerms time.Duration
	repo         invoicedomain.Repository
	balance      balancedomain.Service
	ledger       ledgerdomain.Service
	auditSvc     auditdomain.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	template := p.Cfg.Invoice.NumberTemplate
	if template == "" {
		template = format.DefaultInvoiceNumberTemplate
	}
	terms := p.Cfg.Invoice.PaymentTermsDays
	if terms < 0 {
		terms = 0
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		clock:        p.Clock,
		template:     template,
		paymentTerms: time.Duration(terms) * 24 * time.Hour,
		repo:         p.Repo,
		balance:      p.Balance,
		ledger:       p.Ledger,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	if req.CustomerID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCustomer
	}
	if req.Subtotal < 0 || req.TaxAmount < 0 || req.DiscountAmount < 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}
	total := invoicedomain.ComputeTotal(req.Subtotal, req.TaxAmount, req.DiscountAmount)
	if total <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTotal
	}

	if _, err := s.balance.Get(ctx, req.CustomerID); err != nil {
		if errors.Is(err, balancedomain.ErrAccountNotFound) {
			return invoicedomain.Invoice{}, invoicedomain.ErrCustomerNotFound
		}
		return invoicedomain.Invoice{}, err
	}

	now := s.clock.Now().UTC()
	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		Status:         invoicedomain.InvoiceStatusDraft,
		Subtotal:       req.Subtotal,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		Total:          total,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ref := strings.TrimSpace(req.JobReference); ref != "" {
		invoice.JobReference = &ref
	}
	if req.DueAt != nil {
		due := req.DueAt.UTC()
		invoice.DueAt = &due
	}

	if err := s.repo.Insert(ctx, s.db, &invoice); err != nil {
		return invoicedomain.Invoice{}, err
	}
	return invoice, nil
}

// Finalize numbers the invoice, moves it to sent and posts its charge in
// the same transaction.
func (s *Service) Finalize(ctx context.Context, invoiceID snowflake.ID) (invoicedomain.Invoice, error) {
	invoice, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if invoice.Status != invoicedomain.InvoiceStatusDraft {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotDraft
	}

	// Numbers are global, so they are claimed before the customer lock and
	// never make one customer's finalize wait on another's.
	seq, err := s.repo.ClaimNumberSeq(ctx, s.db)
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNumberConflict
		}
		return invoicedomain.Invoice{}, err
	}

	var finalized invoicedomain.Invoice
	err = s.balance.WithCustomerLock(ctx, invoice.CustomerID, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if current == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if current.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrInvoiceNotDraft
		}

		now := s.clock.Now().UTC()
		number, err := format.FormatInvoiceNumber(s.template, now, seq)
		if err != nil {
			return err
		}

		dueAt := current.DueAt
		if dueAt == nil {
			due := now.Add(s.paymentTerms)
			dueAt = &due
		}

		if err := s.repo.MarkSent(ctx, tx, current.ID, number, seq, now, dueAt); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrInvoiceNumberConflict
			}
			if errors.Is(err, invoicedomain.ErrInvalidStatus) {
				return invoicedomain.ErrInvoiceNotDraft
			}
			return err
		}

		if _, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostRequest{
			CustomerID:   current.CustomerID,
			Type:         ledgerdomain.TransactionTypeCharge,
			Amount:       current.Total,
			InvoiceID:    &current.ID,
			JobReference: current.JobReference,
			Description:  fmt.Sprintf("Invoice %s", number),
		}); err != nil {
			return err
		}

		current.Status = invoicedomain.InvoiceStatusSent
		current.InvoiceNumber = &number
		current.NumberSeq = &seq
		current.IssuedAt = &now
		current.DueAt = dueAt
		current.UpdatedAt = now
		finalized = *current
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.emitAudit(ctx, "invoice.finalized", &finalized, map[string]any{
		"previous_status": string(invoicedomain.InvoiceStatusDraft),
	})
	return finalized, nil
}

// Cancel voids an invoice. Once charged, the charge is reversed with an
// adjustment; an invoice that has received payments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, invoiceID snowflake.ID, reason string) (invoicedomain.Invoice, error) {
	invoice, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var (
		cancelled      invoicedomain.Invoice
		previousStatus invoicedomain.InvoiceStatus
		reversal       *ledgerdomain.LedgerTransaction
	)
	err = s.balance.WithCustomerLock(ctx, invoice.CustomerID, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if current == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		previousStatus = current.Status

		charged := false
		switch current.Status {
		case invoicedomain.InvoiceStatusDraft:
		case invoicedomain.InvoiceStatusSent, invoicedomain.InvoiceStatusOverdue:
			if current.AmountPaid != 0 {
				return invoicedomain.ErrInvoiceNotCancellable
			}
			charged = true
		default:
			return invoicedomain.ErrInvoiceNotCancellable
		}

		now := s.clock.Now().UTC()
		if err := s.repo.MarkCancelled(ctx, tx, current.ID, now); err != nil {
			if errors.Is(err, invoicedomain.ErrInvalidStatus) {
				return invoicedomain.ErrInvoiceNotCancellable
			}
			return err
		}

		if charged {
			description := "Cancellation of invoice"
			if current.InvoiceNumber != nil {
				description += " " + *current.InvoiceNumber
			}
			if r := strings.TrimSpace(reason); r != "" {
				description += ": " + r
			}
			posted, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostRequest{
				CustomerID:   current.CustomerID,
				Type:         ledgerdomain.TransactionTypeAdjustment,
				Amount:       -current.Total,
				InvoiceID:    &current.ID,
				JobReference: current.JobReference,
				Description:  description,
			})
			if err != nil {
				return err
			}
			reversal = &posted
		}

		current.Status = invoicedomain.InvoiceStatusCancelled
		current.CancelledAt = &now
		current.UpdatedAt = now
		cancelled = *current
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	metadata := map[string]any{
		"previous_status": string(previousStatus),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata["reason"] = reason
	}
	if reversal != nil {
		metadata["reversal_transaction_id"] = reversal.ID.String()
	}
	s.emitAudit(ctx, "invoice.cancelled", &cancelled, metadata)
	return cancelled, nil
}

// MarkOverdue flips every unpaid sent or partial invoice past its due date.
// It changes status only, so no customer lock is taken.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = s.clock.Now()
	}
	updated, err := s.repo.MarkOverdue(ctx, s.db, now.UTC())
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.log.Info("invoices marked overdue", zap.Int64("count", updated))
	}
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, invoiceID snowflake.ID) (invoicedomain.Invoice, error) {
	if invoiceID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if invoice == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := invoicedomain.ListFilter{
		CustomerID: req.CustomerID,
		Limit:      req.Limit(),
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		filter.Status = invoicedomain.InvoiceStatus(strings.ToLower(raw))
		if !validStatus(filter.Status) {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || id == 0 {
			return invoicedomain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	items, pageInfo, err := pagination.BuildCursorPageInfo(items, filter.Limit, func(inv *invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String()}
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

// ApplyPaymentTx raises amount_paid by amount. The caller holds the
// customer lock and posts the matching ledger row.
func (s *Service) ApplyPaymentTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, amount int64, at time.Time) (invoicedomain.Invoice, error) {
	if amount <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}
	current, err := s.repo.FindForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if current == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	if !balancedomain.HoldsLock(ctx, current.CustomerID) {
		return invoicedomain.Invoice{}, balancedomain.ErrLockNotHeld
	}
	if !current.Status.Payable() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotPayable
	}
	if amount > current.AmountDue() {
		return invoicedomain.Invoice{}, invoicedomain.ErrAmountExceedsDue
	}

	at = at.UTC()
	paid := current.AmountPaid + amount
	status := invoicedomain.StatusAfterPayment(current.Status, current.Total, paid)
	var paidAt *time.Time
	if status == invoicedomain.InvoiceStatusPaid {
		paidAt = &at
	}

	if err := s.repo.ApplyPayment(ctx, tx, invoicedomain.PaymentUpdate{
		InvoiceID:  current.ID,
		AmountPaid: paid,
		Status:     status,
		PaidAt:     paidAt,
		UpdatedAt:  at,
	}); err != nil {
		return invoicedomain.Invoice{}, err
	}

	current.AmountPaid = paid
	current.Status = status
	current.PaidAt = paidAt
	current.UpdatedAt = at
	return *current, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"customer_id": invoice.CustomerID.String(),
		"total":       money.Format(invoice.Total),
		"status":      string(invoice.Status),
	}
	if invoice.InvoiceNumber != nil {
		metadata["invoice_number"] = *invoice.InvoiceNumber
	}
	if invoice.JobReference != nil {
		metadata["job_reference"] = *invoice.JobReference
	}
	if invoice.DueAt != nil {
		metadata["due_at"] = invoice.DueAt.Format(time.RFC3339)
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	_ = s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		CustomerID: invoice.CustomerID,
		Action:     action,
		TargetType: "invoice",
		TargetID:   invoice.ID.String(),
		Metadata:   metadata,
	})
}

func validStatus(status invoicedomain.InvoiceStatus) bool {
	switch status {
	case invoicedomain.InvoiceStatusDraft,
		invoicedomain.InvoiceStatusSent,
		invoicedomain.InvoiceStatusPartial,
		invoicedomain.InvoiceStatusPaid,
		invoicedomain.InvoiceStatusOverdue,
		invoicedomain.InvoiceStatusCancelled:
		return true
	default:
		return false
	}
}
