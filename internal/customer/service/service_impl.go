package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"github.com/smallbiznis/pressledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxCodeAttempts = 20

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Ledger ledgerdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	ledger ledgerdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("customer.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,
	}
}

// Create inserts the customer and opens its ledger account in one
// transaction, so a customer never exists without a balance row and a
// current statement period.
func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Customer{}, domain.ErrInvalidEmail
	}
	if req.CreditLimit < 0 {
		return domain.Customer{}, domain.ErrInvalidCreditLimit
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:        s.genID.Generate(),
		Name:      name,
		Email:     email,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		customer.Phone = &phone
	}
	for key, value := range req.Metadata {
		customer.Metadata[key] = value
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := s.uniqueCode(ctx, tx, name)
		if err != nil {
			return err
		}
		customer.Code = code

		if err := s.repo.Insert(ctx, tx, &customer); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrCodeUnavailable
			}
			return err
		}
		_, err = s.ledger.OpenAccountTx(ctx, tx, customer.ID, req.CreditLimit, now)
		return err
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.log.Info("customer created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("code", customer.Code),
	)
	return customer, nil
}

func (s *Service) uniqueCode(ctx context.Context, tx *gorm.DB, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "customer"
	}
	for i := 0; i < maxCodeAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i+1)
		}
		exists, err := s.repo.CodeExists(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", domain.ErrCodeUnavailable
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) (domain.ListCustomerResponse, error) {
	filter := domain.ListCustomerFilter{
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
		Limit: req.Limit(),
	}

	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListCustomerResponse{}, err
		}
		id, err := s.parseID(cursor.ID)
		if err != nil {
			return domain.ListCustomerResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, filter.Limit, func(customer *domain.Customer) pagination.Cursor {
		return pagination.Cursor{ID: customer.ID.String()}
	})
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}

	return domain.ListCustomerResponse{PageInfo: *pageInfo, Customers: customers}, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Customer, error) {
	if id == 0 {
		return domain.Customer{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}

	return *item, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

