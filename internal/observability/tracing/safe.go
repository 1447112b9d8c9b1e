package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"customer_name":  {},
	"customer_email": {},
	"reference":      {},
}

// ExtractContext pulls an inbound trace context from carrier headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that may carry customer personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := forbiddenAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces an error to its outermost message so SQL parameters never reach spans.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if idx := strings.Index(msg, ":"); idx > 0 {
		msg = msg[:idx]
	}
	return errors.New(strings.TrimSpace(msg))
}
