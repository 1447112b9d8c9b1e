package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

// Entry describes one audited action.
type Entry struct {
	CustomerID snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	CustomerID string
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
