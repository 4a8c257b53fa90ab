// Package session carries request-scoped identity through context: the
// acting user, their display name, and the session identifier attached to
// every audit entry.
package session

import (
	"context"

	"github.com/google/uuid"
)

// actorIDKey is the context key for the acting user's identifier.
type actorIDKey struct{}

// actorNameKey is the context key for the acting user's display name.
type actorNameKey struct{}

// sessionIDKey is the context key for the session identifier.
type sessionIDKey struct{}

// WithActor stores the acting user's identifier and display name in the
// context. This should be called once the host has authenticated the user.
func WithActor(ctx context.Context, actorID, actorName string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, actorID)
	return context.WithValue(ctx, actorNameKey{}, actorName)
}

// ActorID retrieves the acting user's identifier from context. Returns empty
// string if not present.
func ActorID(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ActorName retrieves the acting user's display name from context. Returns
// empty string if not present.
func ActorName(ctx context.Context) string {
	if name, ok := ctx.Value(actorNameKey{}).(string); ok {
		return name
	}
	return ""
}

// WithSessionID stores a session identifier in the context. If id is empty a
// new UUID is generated.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID retrieves the session identifier from context. Returns empty
// string if not present.
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
