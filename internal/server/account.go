package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"github.com/smallbiznis/pressledger/pkg/money"
)

type balanceView struct {
	balancedomain.AccountBalance
	AvailableCredit int64  `json:"available_credit"`
	Currency        string `json:"currency"`
	Display         string `json:"display_balance"`
}

func (s *Server) GetBalance(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.balanceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balanceView{
		AccountBalance:  balance,
		AvailableCredit: balance.AvailableCredit(),
		Currency:        s.cfg.Ledger.Currency,
		Display:         money.Format(balance.CurrentBalance),
	}})
}

func (s *Server) ListTransactions(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query struct {
		pagination.Pagination
		Type     string `form:"type"`
		PeriodID string `form:"period_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		Pagination: query.Pagination,
		CustomerID: id,
		Type:       strings.TrimSpace(query.Type),
		PeriodID:   strings.TrimSpace(query.PeriodID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

type adjustmentRequest struct {
	Amount       int64  `json:"amount" binding:"required"`
	Description  string `json:"description" binding:"required,max=500"`
	JobReference string `json:"job_reference" binding:"max=100"`
}

// PostAdjustment is the operator's correction path. Positive amounts raise
// what the customer owes, negative amounts lower it.
func (s *Server) PostAdjustment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	post := ledgerdomain.PostRequest{
		CustomerID:  id,
		Type:        ledgerdomain.TransactionTypeAdjustment,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
	}
	if ref := strings.TrimSpace(req.JobReference); ref != "" {
		post.JobReference = &ref
	}

	txn, err := s.ledgerSvc.Post(c.Request.Context(), post)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

type creditLimitRequest struct {
	CreditLimit *int64 `json:"credit_limit" binding:"required,gte=0"`
}

func (s *Server) SetCreditLimit(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req creditLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	balance, err := s.ledgerSvc.SetCreditLimit(c.Request.Context(), id, *req.CreditLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}
