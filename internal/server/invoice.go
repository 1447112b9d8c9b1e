package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

type createInvoiceRequest struct {
	CustomerID     snowflake.ID `json:"customer_id" binding:"required"`
	JobReference   string       `json:"job_reference" binding:"max=100"`
	Subtotal       int64        `json:"subtotal" binding:"gte=0"`
	TaxAmount      int64        `json:"tax_amount" binding:"gte=0"`
	DiscountAmount int64        `json:"discount_amount" binding:"gte=0"`
	DueAt          *time.Time   `json:"due_at"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		CustomerID:     req.CustomerID,
		JobReference:   strings.TrimSpace(req.JobReference),
		Subtotal:       req.Subtotal,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		DueAt:          req.DueAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
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

	req := invoicedomain.ListInvoiceRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
	}
	if customerID != nil {
		req.CustomerID = *customerID
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) FinalizeInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.Finalize(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type cancelInvoiceRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelInvoiceRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	item, err := s.invoiceSvc.Cancel(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListInvoiceAllocations(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.allocationSvc.ListByInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
