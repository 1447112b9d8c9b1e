package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/pressledger/internal/customer/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

type createCustomerRequest struct {
	Name        string         `json:"name" binding:"required,max=200"`
	Email       string         `json:"email" binding:"required,email"`
	Phone       string         `json:"phone" binding:"max=50"`
	CreditLimit int64          `json:"credit_limit" binding:"gte=0"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.customerSvc.Create(c.Request.Context(), customerdomain.CreateCustomerRequest{
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.TrimSpace(req.Email),
		Phone:       strings.TrimSpace(req.Phone),
		CreditLimit: req.CreditLimit,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListCustomers(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Name  string `form:"name"`
		Email string `form:"email"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.customerSvc.List(c.Request.Context(), customerdomain.ListCustomerRequest{
		Pagination: query.Pagination,
		Name:       strings.TrimSpace(query.Name),
		Email:      strings.TrimSpace(query.Email),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Customers, "page_info": resp.PageInfo})
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.customerSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
