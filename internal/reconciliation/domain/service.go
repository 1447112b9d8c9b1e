package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Verify(ctx context.Context, customerID snowflake.ID) (Report, error)
	VerifyAll(ctx context.Context, batchSize int) (SweepResult, error)
}

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrAccountNotFound = errors.New("account_not_found")
)
