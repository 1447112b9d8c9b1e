package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	customerdomain "github.com/smallbiznis/pressledger/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	pkgdb "github.com/smallbiznis/pressledger/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the ledger owns, in foreign key order.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&balancedomain.AccountBalance{},
		&statementdomain.StatementPeriod{},
		&invoicedomain.Invoice{},
		&invoicedomain.NumberCounter{},
		&paymentdomain.Payment{},
		&ledgerdomain.LedgerTransaction{},
		&allocationdomain.PaymentAllocation{},
		&auditdomain.AuditLog{},
	}
}

// partialIndex backs the one-current-period and one-charge-per-invoice
// rules. MySQL has no partial indexes; there the customer lock is the only
// guard.
type partialIndex struct {
	name   string
	create string
}

var partialIndexes = []partialIndex{
	{
		name:   "ux_statement_periods_current",
		create: "CREATE UNIQUE INDEX ux_statement_periods_current ON statement_periods (customer_id) WHERE is_current_period",
	},
	{
		name:   "ux_ledger_transactions_invoice_charge",
		create: "CREATE UNIQUE INDEX ux_ledger_transactions_invoice_charge ON ledger_transactions (invoice_id) WHERE transaction_type = 'charge'",
	},
}

// Apply brings the schema up to date for the connected dialect.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if pkgdb.IsPostgres(conn) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

// AutoMigrate builds the schema from the models. It serves SQLite and MySQL
// deployments and the test suites, and runs on every boot.
//
// gorm's SQLite migrator reads index DDL back when it diffs columns and
// cannot parse a partial index, so those are dropped before the model pass
// and recreated after it.
func AutoMigrate(conn *gorm.DB) error {
	partial := conn.Dialector.Name() != pkgdb.DialectMySQL
	if partial {
		for _, idx := range partialIndexes {
			if err := conn.Exec("DROP INDEX IF EXISTS " + idx.name).Error; err != nil {
				return fmt.Errorf("drop partial index %s: %w", idx.name, err)
			}
		}
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if !partial {
		return nil
	}
	for _, idx := range partialIndexes {
		if err := conn.Exec(idx.create).Error; err != nil {
			return fmt.Errorf("create partial index %s: %w", idx.name, err)
		}
	}
	return nil
}

// RunMigrations applies the embedded PostgreSQL migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
