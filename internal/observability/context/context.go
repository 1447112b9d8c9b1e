package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type customerIDKey struct{}

type actor struct {
	actorType string
	actorID   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.actorType, value.actorID
}

// WithCustomerID tags the context with the customer whose ledger is being touched.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ctx
	}
	return context.WithValue(ctx, customerIDKey{}, customerID)
}

func CustomerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(customerIDKey{}).(string)
	return value
}
