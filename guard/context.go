package guard

import (
	"context"
	"strings"
)

type ctxKeyActor struct{}

// WithActor attributes subsequent approval resolutions on this context
// to the given actor (a CLI user, a daemon API caller).
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor{}, strings.TrimSpace(actor))
}

// ActorFromContext returns the attributed actor, or "" when none was
// set.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v := ctx.Value(ctxKeyActor{})
	actor, _ := v.(string)
	return actor
}
