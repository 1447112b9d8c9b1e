package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	CustomerID string `form:"customer_id"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		CustomerID: strings.TrimSpace(query.CustomerID),
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
