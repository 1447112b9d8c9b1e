package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AgingBucket groups unpaid invoices by days past due on a statement.
type AgingBucket struct {
	Label   string `mapstructure:"label" json:"label"`
	MinDays int    `mapstructure:"minDays" json:"min_days"`
	MaxDays *int   `mapstructure:"maxDays" json:"max_days,omitempty"`
}

type StatementConfig struct {
	AgingBuckets []AgingBucket `mapstructure:"agingBuckets"`
}

func DefaultStatementConfig() StatementConfig {
	return StatementConfig{
		AgingBuckets: []AgingBucket{
			{Label: "current", MinDays: 0, MaxDays: intPtr(0)},
			{Label: "1-30", MinDays: 1, MaxDays: intPtr(30)},
			{Label: "31-60", MinDays: 31, MaxDays: intPtr(60)},
			{Label: "61-90", MinDays: 61, MaxDays: intPtr(90)},
			{Label: "90+", MinDays: 91, MaxDays: nil},
		},
	}
}

func intPtr(v int) *int { return &v }

type StatementConfigHolder struct {
	current atomic.Value // holds StatementConfig
}

// NewStaticStatementConfigHolder returns a holder that never reloads.
func NewStaticStatementConfigHolder(cfg StatementConfig) *StatementConfigHolder {
	holder := &StatementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewStatementConfigHolder(log *zap.Logger) (*StatementConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.statement")

	v := viper.New()
	v.SetConfigName("statement")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/pressledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PRESSLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	cfg := DefaultStatementConfig()
	if found {
		if err := v.UnmarshalKey("statement", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateStatementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticStatementConfigHolder(cfg)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated StatementConfig
		if err := v.UnmarshalKey("statement", &updated); err != nil {
			log.Warn("statement config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validateStatementConfig(updated); err != nil {
			log.Warn("invalid statement config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("statement config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *StatementConfigHolder) Get() StatementConfig {
	if h == nil {
		return DefaultStatementConfig()
	}
	cfg, ok := h.current.Load().(StatementConfig)
	if !ok {
		return DefaultStatementConfig()
	}
	return cfg
}

// BucketFor returns the label of the bucket covering daysPastDue.
func (c StatementConfig) BucketFor(daysPastDue int) string {
	for _, bucket := range c.AgingBuckets {
		if daysPastDue < bucket.MinDays {
			continue
		}
		if bucket.MaxDays != nil && daysPastDue > *bucket.MaxDays {
			continue
		}
		return bucket.Label
	}
	return ""
}

func validateStatementConfig(cfg StatementConfig) error {
	if len(cfg.AgingBuckets) == 0 {
		return errors.New("statement.agingBuckets cannot be empty")
	}
	prevMax := -1
	for i, bucket := range cfg.AgingBuckets {
		if strings.TrimSpace(bucket.Label) == "" {
			return fmt.Errorf("statement.agingBuckets[%d]: label is required", i)
		}
		if bucket.MinDays != prevMax+1 {
			return fmt.Errorf("statement.agingBuckets[%d]: buckets must be contiguous", i)
		}
		if bucket.MaxDays == nil {
			if i != len(cfg.AgingBuckets)-1 {
				return fmt.Errorf("statement.agingBuckets[%d]: only the last bucket may be open-ended", i)
			}
			break
		}
		if *bucket.MaxDays < bucket.MinDays {
			return fmt.Errorf("statement.agingBuckets[%d]: maxDays before minDays", i)
		}
		prevMax = *bucket.MaxDays
	}
	return nil
}
