package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/pressledger/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger. Request and job logs below error level are
// sampled; error entries, which carry drift and closing mismatches, never are.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = normalizeFormat(cfg.Format)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.Sampling = nil

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var options []zap.Option
	if cfg.IncludeCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	options = append(options, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return sampleBelowError(core, cfg)
	}))

	logger, err := zapCfg.Build(options...)
	if err != nil {
		return nil, err
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pressledger"
	}

	logger = logger.With(
		zap.String("service", serviceName),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(logger)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = logger.Sync()
				return nil
			},
		})
	}

	return logger, nil
}

func sampleBelowError(core zapcore.Core, cfg Config) zapcore.Core {
	initial := cfg.SamplingInitial
	if initial == 0 {
		initial = 100
	}
	thereafter := cfg.SamplingThereafter
	if thereafter == 0 {
		thereafter = 100
	}
	window := cfg.SamplingWindow
	if window == 0 {
		window = time.Second
	}

	sampled := zapcore.NewSamplerWithOptions(levelBelow{Core: core, max: zapcore.ErrorLevel}, window, initial, thereafter)
	return zapcore.NewTee(sampled, levelAtLeast{Core: core, min: zapcore.ErrorLevel})
}

// levelBelow passes entries strictly below max.
type levelBelow struct {
	zapcore.Core
	max zapcore.Level
}

func (c levelBelow) Enabled(l zapcore.Level) bool {
	return l < c.max && c.Core.Enabled(l)
}

func (c levelBelow) With(fields []zapcore.Field) zapcore.Core {
	return levelBelow{Core: c.Core.With(fields), max: c.max}
}

func (c levelBelow) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// levelAtLeast passes entries at or above min.
type levelAtLeast struct {
	zapcore.Core
	min zapcore.Level
}

func (c levelAtLeast) Enabled(l zapcore.Level) bool {
	return l >= c.min && c.Core.Enabled(l)
}

func (c levelAtLeast) With(fields []zapcore.Field) zapcore.Core {
	return levelAtLeast{Core: c.Core.With(fields), min: c.min}
}

func (c levelAtLeast) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext tags base with the request, customer, actor and trace the
// context carries.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 6)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if customerID := obscontext.CustomerIDFromContext(ctx); customerID != "" {
		fields = append(fields, zap.String("customer_id", customerID))
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		fields = append(fields,
			zap.String("actor_type", actorType),
			zap.String("actor_id", actorID),
		)
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return base.With(fields...)
}
