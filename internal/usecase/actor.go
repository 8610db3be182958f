package usecase

import (
	"context"
	"strings"
)

type actorKey struct{}

// WithActor stores the identifier of the caller performing a mutation.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actorID))
}

// ActorFromContext returns the caller identifier or "system" when none was attached.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
