package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, code, name, email, phone, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.Code,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, email, phone, metadata, created_at, updated_at
		 FROM customers WHERE id = ?`,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) CodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM customers WHERE code = ?`,
		code,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListCustomerFilter) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).Model(&domain.Customer{})
	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("id desc").Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}
