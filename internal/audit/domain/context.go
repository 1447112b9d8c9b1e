package domain

import "context"

type actorKey struct{}
type requestIDKey struct{}

type actor struct {
	actorType string
	actorID   string
}

// ContextWithActor records who triggered the work carried by ctx.
func ContextWithActor(ctx context.Context, actorType ActorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{actorType: string(actorType), actorID: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	a, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return a.actorType, a.actorID
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
