package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	customerdomain "github.com/smallbiznis/pressledger/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/smallbiznis/pressledger/pkg/db"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

const (
	errorTypeValidation          = "validation_error"
	errorTypeNotFound            = "not_found"
	errorTypeConflict            = "conflict"
	errorTypeConcurrencyConflict = "concurrency_conflict"
	errorTypeInvariantViolation  = "invariant_violation"
	errorTypeInternal            = "internal_error"
)

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if payload.Type == errorTypeConcurrencyConflict {
			c.Header("Retry-After", "1")
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindError turns a binding failure into per-field validation errors.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldErrorMessage(fe),
		})
	}
	return out
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "gt", "gte", "lt", "lte", "max", "min":
		return fe.Field() + " must be " + fe.Tag() + " " + fe.Param()
	case "email":
		return fe.Field() + " must be an email address"
	default:
		return "invalid value"
	}
}

func jsonFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    errorTypeNotFound,
			Message: "not found",
		}
	case isConcurrencyConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    errorTypeConcurrencyConflict,
			Message: "the account is busy, retry the operation",
		}
	case isStateConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    errorTypeConflict,
			Message: err.Error(),
		}
	case isInvariantViolation(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInvariantViolation,
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if payload.Type != errorTypeInternal {
		code = err.Error()
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	case isCustomerValidationError(err),
		isLedgerValidationError(err),
		isStatementValidationError(err),
		isInvoiceValidationError(err),
		isPaymentValidationError(err),
		isAllocationValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isCustomerValidationError(err error) bool {
	switch {
	case errors.Is(err, customerdomain.ErrInvalidName),
		errors.Is(err, customerdomain.ErrInvalidEmail),
		errors.Is(err, customerdomain.ErrInvalidID),
		errors.Is(err, customerdomain.ErrInvalidCreditLimit):
		return true
	default:
		return false
	}
}

func isLedgerValidationError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidTransactionType),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidCustomer),
		errors.Is(err, ledgerdomain.ErrInvalidPeriod),
		errors.Is(err, balancedomain.ErrInvalidCustomer),
		errors.Is(err, balancedomain.ErrInvalidCreditLim),
		errors.Is(err, reconciliationdomain.ErrInvalidCustomer):
		return true
	default:
		return false
	}
}

func isStatementValidationError(err error) bool {
	switch {
	case errors.Is(err, statementdomain.ErrInvalidCustomer),
		errors.Is(err, statementdomain.ErrInvalidCycle),
		errors.Is(err, statementdomain.ErrInvalidAsOf),
		errors.Is(err, statementdomain.ErrInvalidPeriodStart):
		return true
	default:
		return false
	}
}

func isInvoiceValidationError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrInvalidCustomer),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, invoicedomain.ErrInvalidTotal),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrAmountExceedsDue):
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidCustomer),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidMethod),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrPaymentNotCompleted),
		errors.Is(err, paymentdomain.ErrRefundExceedsOverpayment):
		return true
	default:
		return false
	}
}

func isAllocationValidationError(err error) bool {
	switch {
	case errors.Is(err, allocationdomain.ErrPaymentNotCompleted),
		errors.Is(err, allocationdomain.ErrInvoiceCustomerMismatch),
		errors.Is(err, allocationdomain.ErrAllocationExceedsDue),
		errors.Is(err, allocationdomain.ErrAllocationExceedsPayment),
		errors.Is(err, allocationdomain.ErrDuplicateTarget),
		errors.Is(err, allocationdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidCustomer),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, balancedomain.ErrAccountNotFound),
		errors.Is(err, reconciliationdomain.ErrAccountNotFound),
		errors.Is(err, statementdomain.ErrPeriodNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrCustomerNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrCustomerNotFound),
		errors.Is(err, allocationdomain.ErrPaymentNotFound),
		errors.Is(err, allocationdomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConcurrencyConflict(err error) bool {
	return errors.Is(err, balancedomain.ErrLockTimeout) ||
		errors.Is(err, invoicedomain.ErrInvoiceNumberConflict) ||
		db.IsLockTimeout(err) ||
		db.IsSerializationFailure(err) ||
		db.IsDeadlock(err)
}

func isStateConflict(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, customerdomain.ErrCodeUnavailable),
		errors.Is(err, balancedomain.ErrAccountExists),
		errors.Is(err, ledgerdomain.ErrDuplicateCharge),
		errors.Is(err, statementdomain.ErrNoOpenPeriod),
		errors.Is(err, statementdomain.ErrPeriodAlreadyOpen),
		errors.Is(err, statementdomain.ErrPeriodNotContiguous),
		errors.Is(err, statementdomain.ErrTransactionsAfterCutoff),
		errors.Is(err, invoicedomain.ErrInvoiceNotDraft),
		errors.Is(err, invoicedomain.ErrInvoiceNotPayable),
		errors.Is(err, invoicedomain.ErrInvoiceNotCancellable),
		errors.Is(err, paymentdomain.ErrPaymentNotPending),
		errors.Is(err, allocationdomain.ErrPaymentAlreadyAllocated),
		errors.Is(err, allocationdomain.ErrInvoiceNotPayable):
		return true
	default:
		return false
	}
}

func isInvariantViolation(err error) bool {
	return errors.Is(err, statementdomain.ErrClosingBalanceMismatch) ||
		errors.Is(err, ledgerdomain.ErrBalanceCacheDrift)
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return strings.ReplaceAll(code, "_", " ")
	}
}
