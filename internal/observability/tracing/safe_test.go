package tracing

import (
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPersonalData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("customer_email", "ops@example.com"),
		attribute.String("http.route", "/api/customers/:id"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestSafeErrorTrimsDetail(t *testing.T) {
	err := fmt.Errorf("post ledger transaction: %w", errors.New("duplicate key value (customer_id)=(42)"))
	if got := SafeError(err).Error(); got != "post ledger transaction" {
		t.Fatalf("unexpected safe error %q", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
