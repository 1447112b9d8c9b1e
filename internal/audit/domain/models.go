package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeAPI      ActorType = "api"
	ActorTypeOperator ActorType = "operator"
)

// AuditLog is an append-only record of a ledger-affecting action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	CustomerID *snowflake.ID     `gorm:"index" json:"customer_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	CustomerID *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	BeforeID   snowflake.ID
	Limit      int
}
