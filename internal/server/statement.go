package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListStatements(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	periods, err := s.statementSvc.List(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": periods})
}

func (s *Server) GetCurrentStatement(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period, err := s.statementSvc.GetCurrent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}

func (s *Server) GetStatement(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	periodID, err := pathID(c, "period_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statement, err := s.statementSvc.GetStatement(c.Request.Context(), id, periodID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statement})
}

type closeStatementRequest struct {
	AsOf *time.Time `json:"as_of" binding:"required"`
}

func (s *Server) CloseStatement(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req closeStatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	period, err := s.statementSvc.CloseCurrentPeriod(c.Request.Context(), id, *req.AsOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}

type openStatementRequest struct {
	PeriodStart *time.Time `json:"period_start" binding:"required"`
}

func (s *Server) OpenStatement(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req openStatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	period, err := s.statementSvc.OpenNextPeriod(c.Request.Context(), id, *req.PeriodStart)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}

type rolloverRequest struct {
	AsOf *time.Time `json:"as_of"`
}

func (s *Server) RolloverStatement(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rolloverRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	var now time.Time
	if req.AsOf != nil {
		now = *req.AsOf
	}
	result, err := s.statementSvc.Rollover(c.Request.Context(), id, now)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) VerifyAccount(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.reconciliationSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
