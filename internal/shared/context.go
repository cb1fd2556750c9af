package shared

import "context"

type actorContextKey struct{}

// Actor identifies the authenticated user making the current request.
// It is resolved by middleware from the identity layer and carried on the
// request context; domain services never reach for ambient globals.
type Actor struct {
	UserID int64
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
