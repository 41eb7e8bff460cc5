// Package identity models the current actor: a guest with on-device data
// only, or an authenticated user whose data lives remotely.
package identity

import "context"

// Actor is the resolved identity of a request.
type Actor struct {
	UserID string
	Guest  bool
}

// Anonymous is the actor used when no credentials are presented at all.
// It can browse the shared catalog but owns no per-user state.
var Anonymous = Actor{Guest: true}

// Known reports whether the actor carries a stable identifier (authenticated
// users and guests who obtained an anonymous token).
func (a Actor) Known() bool {
	return a.UserID != ""
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a context carrying the actor
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// FromContext retrieves the actor from context, defaulting to Anonymous
func FromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey).(Actor); ok {
		return actor
	}
	return Anonymous
}
