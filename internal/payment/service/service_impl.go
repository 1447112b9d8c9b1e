package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	"github.com/smallbiznis/pressledger/internal/audit/masking"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"github.com/smallbiznis/pressledger/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Balance    balancedomain.Service
	LedgerSvc  ledgerdomain.Service
	Allocation allocationdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	balance    balancedomain.Service
	ledgerSvc  ledgerdomain.Service
	allocation allocationdomain.Service
	auditSvc   auditdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		balance:    p.Balance,
		ledgerSvc:  p.LedgerSvc,
		allocation: p.Allocation,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Record(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.Payment, error) {
	if req.CustomerID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidCustomer
	}
	if req.Amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	method := paymentdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if !method.Valid() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidMethod
	}

	if _, err := s.balance.Get(ctx, req.CustomerID); err != nil {
		if errors.Is(err, balancedomain.ErrAccountNotFound) {
			return paymentdomain.Payment{}, paymentdomain.ErrCustomerNotFound
		}
		return paymentdomain.Payment{}, err
	}

	now := s.clock.Now().UTC()
	receivedAt := now
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = req.ReceivedAt.UTC()
	}

	payment := paymentdomain.Payment{
		ID:         s.genID.Generate(),
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		Method:     method,
		Status:     paymentdomain.PaymentStatusPending,
		Metadata:   datatypes.JSONMap{},
		ReceivedAt: receivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		payment.Reference = &ref
	}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payment.Metadata[key] = value
	}

	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		return paymentdomain.Payment{}, err
	}
	return payment, nil
}

// Complete confirms a pending payment and allocates it exactly once, all in
// one transaction under the customer lock.
func (s *Service) Complete(ctx context.Context, paymentID snowflake.ID, targets []allocationdomain.Target) (paymentdomain.CompletePaymentResponse, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return paymentdomain.CompletePaymentResponse{}, err
	}

	var resp paymentdomain.CompletePaymentResponse
	err = s.balance.WithCustomerLock(ctx, payment.CustomerID, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if current.Status != paymentdomain.PaymentStatusPending {
			return paymentdomain.ErrPaymentNotPending
		}

		now := s.clock.Now().UTC()
		if err := s.repo.MarkCompleted(ctx, tx, current.ID, now); err != nil {
			if errors.Is(err, paymentdomain.ErrInvalidStatus) {
				return paymentdomain.ErrPaymentNotPending
			}
			return err
		}

		result, err := s.allocation.AllocateTx(ctx, tx, current.ID, targets)
		if err != nil {
			return err
		}

		updated, err := s.repo.FindByID(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		if updated == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		resp = paymentdomain.CompletePaymentResponse{Payment: *updated, Allocation: result}
		return nil
	})
	if err != nil {
		return paymentdomain.CompletePaymentResponse{}, err
	}

	s.emitAudit(ctx, "payment.completed", &resp.Payment, map[string]any{
		"allocated":   money.Format(resp.Allocation.AllocatedTotal()),
		"overpayment": money.Format(resp.Allocation.OverpaymentAmount),
		"mode":        string(resp.Allocation.Mode),
		"allocations": len(resp.Allocation.Allocations),
	})
	return resp, nil
}

func (s *Service) Fail(ctx context.Context, paymentID snowflake.ID, reason string) (paymentdomain.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment.Status != paymentdomain.PaymentStatusPending {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotPending
	}

	var reasonPtr *string
	if r := strings.TrimSpace(reason); r != "" {
		reasonPtr = &r
	}
	now := s.clock.Now().UTC()
	if err := s.repo.MarkFailed(ctx, s.db, payment.ID, reasonPtr, now); err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidStatus) {
			return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotPending
		}
		return paymentdomain.Payment{}, err
	}

	payment.Status = paymentdomain.PaymentStatusFailed
	payment.FailureReason = reasonPtr
	payment.FailedAt = &now
	payment.UpdatedAt = now
	return payment, nil
}

// RefundOverpayment returns part of the unapplied credit to the customer.
// The refund posts a positive adjustment because it removes that credit.
func (s *Service) RefundOverpayment(ctx context.Context, paymentID snowflake.ID, amount int64) (paymentdomain.RefundResponse, error) {
	if amount <= 0 {
		return paymentdomain.RefundResponse{}, paymentdomain.ErrInvalidAmount
	}
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return paymentdomain.RefundResponse{}, err
	}

	var resp paymentdomain.RefundResponse
	err = s.balance.WithCustomerLock(ctx, payment.CustomerID, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if current.Status != paymentdomain.PaymentStatusCompleted || current.AllocatedAt == nil {
			return paymentdomain.ErrPaymentNotCompleted
		}
		if amount > current.RefundableAmount() {
			return paymentdomain.ErrRefundExceedsOverpayment
		}

		posted, err := s.ledgerSvc.PostTx(ctx, tx, ledgerdomain.PostRequest{
			CustomerID:  current.CustomerID,
			Type:        ledgerdomain.TransactionTypeAdjustment,
			Amount:      amount,
			PaymentID:   &current.ID,
			Description: "Refund of overpayment",
		})
		if err != nil {
			return err
		}

		refunded := current.RefundAmount + amount
		status := current.Status
		if current.OverpaymentAmount == current.Amount && refunded == current.Amount {
			status = paymentdomain.PaymentStatusRefunded
		}
		now := s.clock.Now().UTC()
		if err := s.repo.ApplyRefund(ctx, tx, current.ID, refunded, status, now); err != nil {
			return err
		}

		current.RefundAmount = refunded
		current.Status = status
		current.RefundedAt = &now
		current.UpdatedAt = now
		resp = paymentdomain.RefundResponse{Payment: *current, Transaction: posted}
		return nil
	})
	if err != nil {
		return paymentdomain.RefundResponse{}, err
	}

	s.emitAudit(ctx, "payment.refunded", &resp.Payment, map[string]any{
		"refund":                money.Format(amount),
		"refunded_total":        money.Format(resp.Payment.RefundAmount),
		"ledger_transaction_id": resp.Transaction.ID.String(),
	})
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, paymentID snowflake.ID) (paymentdomain.Payment, error) {
	if paymentID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}
	return *payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	filter := paymentdomain.ListFilter{
		CustomerID: req.CustomerID,
		Limit:      req.Limit(),
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := paymentdomain.PaymentStatus(strings.ToLower(raw))
		switch status {
		case paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusCompleted,
			paymentdomain.PaymentStatusFailed, paymentdomain.PaymentStatusRefunded:
			filter.Status = status
		default:
			return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidStatus
		}
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return paymentdomain.ListPaymentResponse{}, err
		}
		id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || id == 0 {
			return paymentdomain.ListPaymentResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	items, pageInfo, err := pagination.BuildCursorPageInfo(items, filter.Limit, func(p *paymentdomain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: p.ID.String()}
	})
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	return paymentdomain.ListPaymentResponse{PageInfo: *pageInfo, Payments: payments}, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"customer_id": payment.CustomerID.String(),
		"amount":      money.Format(payment.Amount),
		"method":      string(payment.Method),
		"status":      string(payment.Status),
	}
	if payment.Reference != nil {
		metadata["reference"] = *payment.Reference
	}
	for key, value := range extra {
		metadata[key] = value
	}

	_ = s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		CustomerID: payment.CustomerID,
		Action:     action,
		TargetType: "payment",
		TargetID:   payment.ID.String(),
		Metadata:   masking.MaskFields(metadata, "reference"),
	})
}
