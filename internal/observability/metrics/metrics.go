package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger-level instruments.
type Metrics struct {
	ledgerTransactions metric.Int64Counter
	ledgerAmount       metric.Int64Histogram
	allocations        metric.Int64Counter
	overpayments       metric.Int64Counter
	periodCloses       metric.Int64Counter
	driftDetected      metric.Int64Counter
	lockWait           metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pressledger"
	}
	meter := provider.Meter(name)

	ledgerTransactions, err := meter.Int64Counter("pressledger_ledger_transactions_total")
	if err != nil {
		return nil, err
	}
	ledgerAmount, err := meter.Int64Histogram("pressledger_ledger_transaction_amount_minor")
	if err != nil {
		return nil, err
	}
	allocations, err := meter.Int64Counter("pressledger_payment_allocations_total")
	if err != nil {
		return nil, err
	}
	overpayments, err := meter.Int64Counter("pressledger_payment_overpayments_total")
	if err != nil {
		return nil, err
	}
	periodCloses, err := meter.Int64Counter("pressledger_statement_period_closes_total")
	if err != nil {
		return nil, err
	}
	driftDetected, err := meter.Int64Counter("pressledger_reconciliation_drift_total")
	if err != nil {
		return nil, err
	}
	lockWait, err := meter.Float64Histogram("pressledger_customer_lock_wait_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerTransactions: ledgerTransactions,
		ledgerAmount:       ledgerAmount,
		allocations:        allocations,
		overpayments:       overpayments,
		periodCloses:       periodCloses,
		driftDetected:      driftDetected,
		lockWait:           lockWait,
	}, nil
}

// RecordLedgerTransaction counts a posted ledger row and its absolute amount.
func (m *Metrics) RecordLedgerTransaction(ctx context.Context, transactionType string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transaction_type", strings.TrimSpace(transactionType)))
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount < 0 {
		amount = -amount
	}
	m.ledgerAmount.Record(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordAllocation counts allocation rows written for a payment.
func (m *Metrics) RecordAllocation(ctx context.Context, mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("mode", strings.TrimSpace(mode)))
	m.allocations.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordOverpayment counts payments that left a credit remainder.
func (m *Metrics) RecordOverpayment(ctx context.Context) {
	if m == nil {
		return
	}
	m.overpayments.Add(ctx, 1)
}

// RecordPeriodClose counts statement period closes by result.
func (m *Metrics) RecordPeriodClose(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.periodCloses.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDrift counts reconciliation findings by kind.
func (m *Metrics) RecordDrift(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.driftDetected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveLockWait records time spent acquiring a customer lock.
func (m *Metrics) ObserveLockWait(ctx context.Context, duration time.Duration, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.lockWait.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"transaction_type": {},
	"mode":             {},
	"result":           {},
	"kind":             {},
	"method":           {},
	"route":            {},
	"status_code":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
