package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewStatementConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnowflakeNode int64

	Ledger    LedgerConfig
	Invoice   InvoiceConfig
	Scheduler SchedulerConfig
}

type LedgerConfig struct {
	Currency       string
	StatementCycle string
	LockTimeout    time.Duration
}

type InvoiceConfig struct {
	NumberTemplate   string
	PaymentTermsDays int
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	EnabledJobs []string
	LeaseTTL    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	v := newViper()

	environment := v.GetString("environment")
	return Config{
		AppName:           v.GetString("app.service"),
		AppVersion:        v.GetString("app.version"),
		Environment:       environment,
		HTTPAddr:          v.GetString("http.addr"),
		OTLPEndpoint:      v.GetString("otlp.endpoint"),
		DBType:            strings.ToLower(strings.TrimSpace(v.GetString("database.type"))),
		DBHost:            v.GetString("database.host"),
		DBPort:            v.GetString("database.port"),
		DBName:            v.GetString("database.name"),
		DBUser:            v.GetString("database.user"),
		DBPassword:        v.GetString("database.password"),
		DBSSLMode:         v.GetString("database.sslmode"),
		DBPath:            v.GetString("database.path"),
		DBMaxIdleConn:     v.GetInt("database.max_idle_conn"),
		DBMaxOpenConn:     v.GetInt("database.max_open_conn"),
		DBConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
		DBConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		RedisAddr:         strings.TrimSpace(v.GetString("redis.addr")),
		RedisPassword:     v.GetString("redis.password"),
		RedisDB:           v.GetInt("redis.db"),
		SnowflakeNode:     v.GetInt64("snowflake.node"),
		Ledger: LedgerConfig{
			Currency:       strings.ToUpper(strings.TrimSpace(v.GetString("ledger.currency"))),
			StatementCycle: strings.ToLower(strings.TrimSpace(v.GetString("ledger.statement_cycle"))),
			LockTimeout:    v.GetDuration("ledger.lock_timeout"),
		},
		Invoice: InvoiceConfig{
			NumberTemplate:   strings.TrimSpace(v.GetString("invoice.number_template")),
			PaymentTermsDays: v.GetInt("invoice.payment_terms_days"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     v.GetBool("scheduler.enabled"),
			RunInterval: v.GetDuration("scheduler.run_interval"),
			BatchSize:   v.GetInt("scheduler.batch_size"),
			EnabledJobs: parseList(v.GetString("scheduler.jobs")),
			LeaseTTL:    v.GetDuration("scheduler.lease_ttl"),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.service", "pressledger")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("environment", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("otlp.endpoint", "localhost:4317")

	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "pressledger")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "pressledger.db")
	v.SetDefault("database.max_idle_conn", 10)
	v.SetDefault("database.max_open_conn", 50)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.conn_max_idle_time", 60)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("snowflake.node", 1)

	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.statement_cycle", "monthly")
	v.SetDefault("ledger.lock_timeout", 5*time.Second)

	v.SetDefault("invoice.number_template", "INV-{YYYY}{MM}-{SEQ6}")
	v.SetDefault("invoice.payment_terms_days", 30)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.run_interval", time.Minute)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.jobs", "")
	v.SetDefault("scheduler.lease_ttl", 5*time.Minute)
	return v
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
