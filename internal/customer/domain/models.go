package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code      string            `gorm:"type:varchar(96);not null;uniqueIndex" json:"code"`
	Name      string            `gorm:"not null" json:"name"`
	Email     string            `gorm:"not null" json:"email"`
	Phone     *string           `json:"phone,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }
