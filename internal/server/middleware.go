package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	obscontext "github.com/smallbiznis/pressledger/internal/observability/context"
)

const HeaderOperatorID = "X-Operator-ID"

// AuditActor records who is calling for the audit trail. Requests that name
// an operator are attributed to them; everything else is the API caller.
func AuditActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if operator := strings.TrimSpace(c.GetHeader(HeaderOperatorID)); operator != "" {
			ctx = auditdomain.ContextWithActor(ctx, auditdomain.ActorTypeOperator, operator)
			ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeOperator), operator)
		} else {
			ctx = auditdomain.ContextWithActor(ctx, auditdomain.ActorTypeAPI, c.ClientIP())
		}
		if requestID := c.GetString("request_id"); requestID != "" {
			ctx = auditdomain.ContextWithRequestID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
