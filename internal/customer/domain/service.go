package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
)

type ListCustomerRequest struct {
	pagination.Pagination
	Name  string
	Email string
}

type ListCustomerFilter struct {
	Name     string
	Email    string
	BeforeID snowflake.ID
	Limit    int
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name        string
	Email       string
	Phone       string
	CreditLimit int64
	Metadata    map[string]any
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(context.Context, snowflake.ID) (Customer, error)
}

var (
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidCreditLimit = errors.New("invalid_credit_limit")
	ErrCodeUnavailable    = errors.New("customer_code_unavailable")
	ErrNotFound           = errors.New("not_found")
)
