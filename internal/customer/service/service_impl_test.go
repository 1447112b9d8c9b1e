package service_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/pressledger/internal/customer/domain"
	"github.com/smallbiznis/pressledger/internal/testutil"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpensAccount(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()

	customer, err := env.Customers.Create(ctx, domain.CreateCustomerRequest{
		Name:        "  Riverside Print & Copy ",
		Email:       "accounts@riverside.example",
		Phone:       "+1 555 0100",
		CreditLimit: 250000,
		Metadata:    map[string]any{"segment": "retail"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Riverside Print & Copy", customer.Name)
	assert.Equal(t, "riverside-print-and-copy", customer.Code)
	require.NotNil(t, customer.Phone)

	balance := env.BalanceOf(t, customer.ID)
	assert.Zero(t, balance.CurrentBalance)
	assert.Equal(t, int64(250000), balance.CreditLimit)
	assert.Equal(t, int64(250000), balance.AvailableCredit())

	current, err := env.Statements.GetCurrent(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, current.PeriodStart.Equal(testutil.Epoch))
	assert.Zero(t, current.OpeningBalance)

	found, err := env.Customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "retail", found.Metadata["segment"])
}

func TestCreateSuffixesDuplicateCodes(t *testing.T) {
	env := testutil.New(t)

	first := env.Customer(t, "Acme Labels")
	second := env.Customer(t, "Acme Labels")
	third := env.Customer(t, "Acme Labels")

	assert.Equal(t, "acme-labels", first.Code)
	assert.Equal(t, "acme-labels-2", second.Code)
	assert.Equal(t, "acme-labels-3", third.Code)
}

func TestCreateValidatesInput(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()

	_, err := env.Customers.Create(ctx, domain.CreateCustomerRequest{Name: " ", Email: "a@b.c"})
	require.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = env.Customers.Create(ctx, domain.CreateCustomerRequest{Name: "Nameless", Email: "nope"})
	require.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = env.Customers.Create(ctx, domain.CreateCustomerRequest{Name: "Negative", Email: "n@b.c", CreditLimit: -1})
	require.ErrorIs(t, err, domain.ErrInvalidCreditLimit)

	_, err = env.Customers.GetByID(ctx, env.GenID.Generate())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPagesNewestFirst(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()

	env.Customer(t, "Alpha Press")
	env.Customer(t, "Beta Press")
	gamma := env.Customer(t, "Gamma Press")

	page, err := env.Customers.List(ctx, domain.ListCustomerRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Customers, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, gamma.ID, page.Customers[0].ID)

	rest, err := env.Customers.List(ctx, domain.ListCustomerRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, rest.Customers, 1)
	assert.Equal(t, "Alpha Press", rest.Customers[0].Name)
	assert.False(t, rest.HasMore)
}
