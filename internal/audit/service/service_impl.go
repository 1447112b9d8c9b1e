package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, e auditdomain.Entry) error {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(e.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := s.resolveActor(ctx)

	payload := map[string]any{}
	for key, value := range e.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := auditdomain.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    normalizePointer(&actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(&e.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
	if e.CustomerID != 0 {
		customerID := e.CustomerID
		entry.CustomerID = &customerID
	}

	// Runs after the ledger commit; a failed write never undoes the action.
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	filter := auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Limit:      req.Limit(),
	}

	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		customerID, err := snowflake.ParseString(raw)
		if err != nil || customerID == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidCustomer
		}
		filter.CustomerID = &customerID
	}

	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String()}
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	return auditdomain.ListAuditLogResponse{PageInfo: *pageInfo, AuditLogs: logs}, nil
}

func (s *Service) resolveActor(ctx context.Context) (string, string) {
	actorType, actorID := auditdomain.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, actorID
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
