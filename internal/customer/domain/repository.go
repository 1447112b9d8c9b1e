package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	CodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListCustomerFilter) ([]*Customer, error)
}
