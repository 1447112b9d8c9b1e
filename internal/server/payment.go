package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

type recordPaymentRequest struct {
	CustomerID snowflake.ID   `json:"customer_id" binding:"required"`
	Amount     int64          `json:"amount" binding:"required,gt=0"`
	Method     string         `json:"method" binding:"required,oneof=cash bank_transfer card cheque other"`
	Reference  string         `json:"reference" binding:"max=100"`
	ReceivedAt *time.Time     `json:"received_at"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	payment, err := s.paymentSvc.Record(c.Request.Context(), paymentdomain.RecordPaymentRequest{
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		Method:     req.Method,
		Reference:  strings.TrimSpace(req.Reference),
		ReceivedAt: req.ReceivedAt,
		Metadata:   req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	customerID, err := parseOptionalSnowflakeID(query.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}

	req := paymentdomain.ListPaymentRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
	}
	if customerID != nil {
		req.CustomerID = *customerID
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments, "page_info": resp.PageInfo})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

type completePaymentRequest struct {
	Targets []allocationdomain.Target `json:"targets"`
}

// CompletePayment marks the payment completed and allocates it. Without
// targets the allocation runs oldest invoice first.
func (s *Server) CompletePayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req completePaymentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.paymentSvc.Complete(c.Request.Context(), id, req.Targets)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type failPaymentRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (s *Server) FailPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req failPaymentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	payment, err := s.paymentSvc.Fail(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

type refundPaymentRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.paymentSvc.RefundOverpayment(c.Request.Context(), id, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPaymentAllocations(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.allocationSvc.ListByPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
