package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"lock timeout", balancedomain.ErrLockTimeout, http.StatusConflict, errorTypeConcurrencyConflict},
		{"wrapped lock timeout", fmt.Errorf("finalize: %w", balancedomain.ErrLockTimeout), http.StatusConflict, errorTypeConcurrencyConflict},
		{"invoice number race", invoicedomain.ErrInvoiceNumberConflict, http.StatusConflict, errorTypeConcurrencyConflict},
		{"state conflict", invoicedomain.ErrInvoiceNotDraft, http.StatusConflict, errorTypeConflict},
		{"exceeds due", allocationdomain.ErrAllocationExceedsDue, http.StatusBadRequest, errorTypeValidation},
		{"mismatch", statementdomain.ErrClosingBalanceMismatch, http.StatusInternalServerError, errorTypeInvariantViolation},
		{"not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, errorTypeNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, errorTypeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}
}

func TestErrorHandlingMiddlewareSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/busy", func(c *gin.Context) {
		AbortWithError(c, balancedomain.ErrLockTimeout)
	})
	r.GET("/conflict", func(c *gin.Context) {
		AbortWithError(c, invoicedomain.ErrInvoiceNotDraft)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/busy", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
