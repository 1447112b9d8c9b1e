package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*testutil.Env, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := testutil.New(t)
	engine := NewEngine(EngineParams{})
	NewServer(ServerParams{
		Gin:               engine,
		Cfg:               env.Cfg,
		CustomerSvc:       env.Customers,
		BalanceSvc:        env.Balance,
		LedgerSvc:         env.Ledger,
		StatementSvc:      env.Statements,
		InvoiceSvc:        env.Invoices,
		PaymentSvc:        env.Payments,
		AllocationSvc:     env.Allocation,
		ReconciliationSvc: env.Reconciliation,
		AuditSvc:          env.Audit,
	})
	return env, engine
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestCreateCustomerOpensAccount(t *testing.T) {
	_, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/customers", map[string]any{
		"name":         "Harbor Print Co",
		"email":        "accounts@harbor.example",
		"credit_limit": 250000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	customer := decodeData[struct {
		ID   snowflake.ID `json:"id"`
		Code string       `json:"code"`
	}](t, rec)
	assert.NotZero(t, customer.ID)
	assert.Equal(t, "harbor-print-co", customer.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/customers/"+customer.ID.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	balance := decodeData[balanceView](t, rec)
	assert.Equal(t, int64(0), balance.CurrentBalance)
	assert.Equal(t, int64(250000), balance.CreditLimit)
	assert.Equal(t, int64(250000), balance.AvailableCredit)

	rec = doJSON(t, r, http.MethodGet, "/api/customers/"+customer.ID.String()+"/statements/current", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateCustomerValidation(t *testing.T) {
	_, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/customers", map[string]any{
		"email": "not-an-email",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	payload := decodeError(t, rec)
	assert.Equal(t, errorTypeValidation, payload.Type)

	fields := map[string]string{}
	for _, fe := range payload.Errors {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, "required", fields["name"])
	assert.Equal(t, "email", fields["email"])
}

func TestInvoicePaymentFlow(t *testing.T) {
	env, r := newTestServer(t)
	customer := env.Customer(t, "Lantern Books")

	rec := doJSON(t, r, http.MethodPost, "/api/invoices", map[string]any{
		"customer_id":   customer.ID.String(),
		"job_reference": "JOB-1042",
		"subtotal":      10000,
		"tax_amount":    800,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	invoice := decodeData[struct {
		ID     snowflake.ID `json:"id"`
		Status string       `json:"status"`
		Total  int64        `json:"total"`
	}](t, rec)
	assert.Equal(t, "draft", invoice.Status)
	assert.Equal(t, int64(10800), invoice.Total)

	invoicePath := "/api/invoices/" + invoice.ID.String()
	rec = doJSON(t, r, http.MethodPost, invoicePath+"/finalize", nil, HeaderOperatorID, "op-7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(10800), env.BalanceOf(t, customer.ID).CurrentBalance)

	rec = doJSON(t, r, http.MethodPost, invoicePath+"/finalize", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, errorTypeConflict, decodeError(t, rec).Type)

	rec = doJSON(t, r, http.MethodPost, "/api/payments", map[string]any{
		"customer_id": customer.ID.String(),
		"amount":      12000,
		"method":      "cheque",
		"reference":   "CHK-88",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decodeData[struct {
		ID     snowflake.ID `json:"id"`
		Status string       `json:"status"`
	}](t, rec)
	assert.Equal(t, "pending", payment.Status)

	rec = doJSON(t, r, http.MethodPost, "/api/payments/"+payment.ID.String()+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := decodeData[struct {
		Allocation struct {
			Allocations []struct {
				InvoiceID       snowflake.ID `json:"invoice_id"`
				AllocatedAmount int64        `json:"allocated_amount"`
			} `json:"allocations"`
			OverpaymentAmount int64 `json:"overpayment_amount"`
		} `json:"allocation"`
	}](t, rec)
	require.Len(t, completed.Allocation.Allocations, 1)
	assert.Equal(t, invoice.ID, completed.Allocation.Allocations[0].InvoiceID)
	assert.Equal(t, int64(10800), completed.Allocation.Allocations[0].AllocatedAmount)
	assert.Equal(t, int64(1200), completed.Allocation.OverpaymentAmount)
	assert.Equal(t, int64(-1200), env.BalanceOf(t, customer.ID).CurrentBalance)

	rec = doJSON(t, r, http.MethodGet, invoicePath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decodeData[struct {
		Status string `json:"status"`
	}](t, rec).Status)

	rec = doJSON(t, r, http.MethodGet, invoicePath+"/allocations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]json.RawMessage](t, rec), 1)

	rec = doJSON(t, r, http.MethodGet, "/api/customers/"+customer.ID.String()+"/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeData[struct {
		OK bool `json:"ok"`
	}](t, rec).OK)

	rec = doJSON(t, r, http.MethodGet, "/api/audit-logs?action=invoice.finalized&customer_id="+customer.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	logs := decodeData[[]struct {
		ActorType string  `json:"actor_type"`
		ActorID   *string `json:"actor_id"`
	}](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "operator", logs[0].ActorType)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "op-7", *logs[0].ActorID)
}

func TestRecordPaymentRejectsUnknownMethod(t *testing.T) {
	env, r := newTestServer(t)
	customer := env.Customer(t, "Quarry Press")

	rec := doJSON(t, r, http.MethodPost, "/api/payments", map[string]any{
		"customer_id": customer.ID.String(),
		"amount":      500,
		"method":      "barter",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "method", payload.Errors[0].Field)
	assert.Equal(t, "oneof", payload.Errors[0].Code)
}

func TestNotFoundResponses(t *testing.T) {
	_, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodGet, "/api/invoices/1234567", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errorTypeNotFound, decodeError(t, rec).Type)

	rec = doJSON(t, r, http.MethodGet, "/api/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/invoices/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostAdjustment(t *testing.T) {
	env, r := newTestServer(t)
	customer := env.Customer(t, "Signal Studio")
	env.SentInvoice(t, customer.ID, 5000)

	rec := doJSON(t, r, http.MethodPost, "/api/customers/"+customer.ID.String()+"/adjustments", map[string]any{
		"amount":      -750,
		"description": "damaged print run credit",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(4250), env.BalanceOf(t, customer.ID).CurrentBalance)

	rec = doJSON(t, r, http.MethodGet, "/api/customers/"+customer.ID.String()+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeData[[]json.RawMessage](t, rec), 2)
}
