package scheduler

import (
	"time"

	"github.com/smallbiznis/pressledger/internal/config"
)

const (
	JobStatementRollover   = "statement_rollover"
	JobInvoiceOverdue      = "invoice_overdue"
	JobReconciliationSweep = "reconciliation_sweep"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval           time.Duration
	BatchSize             int
	EnabledJobs           []string
	RolloverTimeout       time.Duration
	OverdueTimeout        time.Duration
	ReconciliationTimeout time.Duration
	MaxRolloverBatches    int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:           time.Minute,
		BatchSize:             50,
		RolloverTimeout:       30 * time.Second,
		OverdueTimeout:        30 * time.Second,
		ReconciliationTimeout: 10 * time.Minute,
		MaxRolloverBatches:    20,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RolloverTimeout <= 0 {
		c.RolloverTimeout = defaults.RolloverTimeout
	}
	if c.OverdueTimeout <= 0 {
		c.OverdueTimeout = defaults.OverdueTimeout
	}
	if c.ReconciliationTimeout <= 0 {
		c.ReconciliationTimeout = defaults.ReconciliationTimeout
	}
	if c.MaxRolloverBatches <= 0 {
		c.MaxRolloverBatches = defaults.MaxRolloverBatches
	}
	return c
}
