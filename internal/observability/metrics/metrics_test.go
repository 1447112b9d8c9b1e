package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("transaction_type", "charge"),
		attribute.String("customer_id", "456"),
		attribute.String("kind", "cache_balance"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_id" {
			t.Fatalf("customer_id must not be used as a metric label")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLedgerTransaction(ctx, "charge", 100)
	m.RecordAllocation(ctx, "fifo", 2)
	m.RecordOverpayment(ctx)
	m.RecordPeriodClose(ctx, "closed")
	m.RecordDrift(ctx, "running_balance")
	m.ObserveLockWait(ctx, time.Millisecond, "acquired")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "pressledger"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordLedgerTransaction(context.Background(), "payment", -500)
}
