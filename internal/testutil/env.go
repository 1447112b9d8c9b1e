// Package testutil wires the ledger services against an in-memory SQLite
// database for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	allocationrepo "github.com/smallbiznis/pressledger/internal/allocation/repository"
	allocationservice "github.com/smallbiznis/pressledger/internal/allocation/service"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/pressledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/pressledger/internal/audit/service"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	balancerepo "github.com/smallbiznis/pressledger/internal/balance/repository"
	balanceservice "github.com/smallbiznis/pressledger/internal/balance/service"
	"github.com/smallbiznis/pressledger/internal/clock"
	"github.com/smallbiznis/pressledger/internal/config"
	customerdomain "github.com/smallbiznis/pressledger/internal/customer/domain"
	customerrepo "github.com/smallbiznis/pressledger/internal/customer/repository"
	customerservice "github.com/smallbiznis/pressledger/internal/customer/service"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/pressledger/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/pressledger/internal/invoice/service"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/pressledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/pressledger/internal/ledger/service"
	"github.com/smallbiznis/pressledger/internal/migration"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/pressledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/pressledger/internal/payment/service"
	reconciliationdomain "github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	reconciliationservice "github.com/smallbiznis/pressledger/internal/reconciliation/service"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	statementrepo "github.com/smallbiznis/pressledger/internal/statement/repository"
	statementservice "github.com/smallbiznis/pressledger/internal/statement/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type Env struct {
	DB    *gorm.DB
	Clock *clock.FakeClock
	GenID *snowflake.Node
	Cfg   config.Config

	BalanceRepo   balancedomain.Repository
	LedgerRepo    ledgerdomain.Repository
	StatementRepo statementdomain.Repository
	InvoiceRepo   invoicedomain.Repository
	PaymentRepo   paymentdomain.Repository

	Audit          auditdomain.Service
	Balance        balancedomain.Service
	Statements     statementdomain.Service
	Ledger         ledgerdomain.Service
	Customers      customerdomain.Service
	Invoices       invoicedomain.Service
	Allocation     allocationdomain.Service
	Payments       paymentdomain.Service
	Reconciliation reconciliationdomain.Service
}

type Option func(*config.Config)

// WithCycle overrides the statement cycle.
func WithCycle(cycle string) Option {
	return func(cfg *config.Config) { cfg.Ledger.StatementCycle = cycle }
}

// WithLockTimeout overrides how long a caller waits for a customer lock.
func WithLockTimeout(d time.Duration) Option {
	return func(cfg *config.Config) { cfg.Ledger.LockTimeout = d }
}

func Config(opts ...Option) config.Config {
	cfg := config.Config{
		AppName:     "pressledger",
		Environment: "test",
		DBType:      "sqlite",
		Ledger: config.LedgerConfig{
			Currency:       "USD",
			StatementCycle: "monthly",
			LockTimeout:    2 * time.Second,
		},
		Invoice: config.InvoiceConfig{
			NumberTemplate:   "INV-{YYYY}{MM}-{SEQ6}",
			PaymentTermsDays: 30,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// OpenDB returns a migrated in-memory database private to t.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection serializes writers the way the row lock does elsewhere.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

// New builds the full service graph over a fresh database.
func New(t *testing.T, opts ...Option) *Env {
	t.Helper()

	db := OpenDB(t)
	cfg := Config(opts...)
	log := zap.NewNop()
	fake := clock.NewFakeClock(Epoch)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := &Env{
		DB:            db,
		Clock:         fake,
		GenID:         node,
		Cfg:           cfg,
		BalanceRepo:   balancerepo.Provide(),
		LedgerRepo:    ledgerrepo.Provide(),
		StatementRepo: statementrepo.Provide(),
		InvoiceRepo:   invoicerepo.Provide(),
		PaymentRepo:   paymentrepo.Provide(),
	}

	env.Audit = auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: auditrepo.Provide(),
	})
	env.Balance = balanceservice.New(balanceservice.Params{
		DB: db, Log: log, Cfg: cfg, Repo: env.BalanceRepo,
	})
	env.Statements, err = statementservice.New(statementservice.Params{
		DB:          db,
		Log:         log,
		Cfg:         cfg,
		GenID:       node,
		Clock:       fake,
		Repo:        env.StatementRepo,
		LedgerRepo:  env.LedgerRepo,
		InvoiceRepo: env.InvoiceRepo,
		Balance:     env.Balance,
		Aging:       config.NewStaticStatementConfigHolder(config.DefaultStatementConfig()),
		Audit:       env.Audit,
	})
	require.NoError(t, err)
	env.Ledger = ledgerservice.New(ledgerservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Repo:        env.LedgerRepo,
		Balance:     env.Balance,
		BalanceRepo: env.BalanceRepo,
		InvoiceRepo: env.InvoiceRepo,
		Statements:  env.Statements,
		Audit:       env.Audit,
	})
	env.Customers = customerservice.New(customerservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: customerrepo.Provide(), Ledger: env.Ledger,
	})
	env.Invoices = invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:       db,
		Log:      log,
		Cfg:      cfg,
		GenID:    node,
		Clock:    fake,
		Repo:     env.InvoiceRepo,
		Balance:  env.Balance,
		Ledger:   env.Ledger,
		AuditSvc: env.Audit,
	})
	env.Allocation = allocationservice.New(allocationservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Repo:        allocationrepo.Provide(),
		PaymentRepo: env.PaymentRepo,
		InvoiceRepo: env.InvoiceRepo,
		Invoices:    env.Invoices,
		Ledger:      env.Ledger,
		Balance:     env.Balance,
	})
	env.Payments = paymentservice.NewService(paymentservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Repo:       env.PaymentRepo,
		Balance:    env.Balance,
		LedgerSvc:  env.Ledger,
		Allocation: env.Allocation,
		AuditSvc:   env.Audit,
	})
	env.Reconciliation = reconciliationservice.New(reconciliationservice.Params{
		DB:            db,
		Log:           log,
		LedgerRepo:    env.LedgerRepo,
		StatementRepo: env.StatementRepo,
		BalanceRepo:   env.BalanceRepo,
	})
	return env
}

// Customer creates a customer with an open account.
func (e *Env) Customer(t *testing.T, name string) customerdomain.Customer {
	t.Helper()
	customer, err := e.Customers.Create(context.Background(), customerdomain.CreateCustomerRequest{
		Name:        name,
		Email:       strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		CreditLimit: 500000,
	})
	require.NoError(t, err)
	return customer
}

// SentInvoice creates and finalizes an invoice for total.
func (e *Env) SentInvoice(t *testing.T, customerID snowflake.ID, total int64) invoicedomain.Invoice {
	t.Helper()
	ctx := context.Background()
	draft, err := e.Invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{
		CustomerID:   customerID,
		JobReference: "JOB-" + e.GenID.Generate().String(),
		Subtotal:     total,
	})
	require.NoError(t, err)
	sent, err := e.Invoices.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	return sent
}

// CompletedPayment records and completes a payment of amount.
func (e *Env) CompletedPayment(t *testing.T, customerID snowflake.ID, amount int64, targets ...allocationdomain.Target) paymentdomain.CompletePaymentResponse {
	t.Helper()
	ctx := context.Background()
	payment, err := e.Payments.Record(ctx, paymentdomain.RecordPaymentRequest{
		CustomerID: customerID,
		Amount:     amount,
		Method:     string(paymentdomain.PaymentMethodCheque),
		Reference:  "CHK-" + e.GenID.Generate().String(),
	})
	require.NoError(t, err)
	resp, err := e.Payments.Complete(ctx, payment.ID, targets)
	require.NoError(t, err)
	return resp
}

// BalanceOf reads the cached account balance.
func (e *Env) BalanceOf(t *testing.T, customerID snowflake.ID) balancedomain.AccountBalance {
	t.Helper()
	balance, err := e.Balance.Get(context.Background(), customerID)
	require.NoError(t, err)
	return balance
}

// Locked runs fn under the customer's lock.
func (e *Env) Locked(t *testing.T, customerID snowflake.ID, fn balancedomain.LockedFunc) error {
	t.Helper()
	return e.Balance.WithCustomerLock(context.Background(), customerID, fn)
}
