// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the values; services and handlers read them without
// depending on net/http:
//
//	actor := requestcontext.Actor(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithActor(ctx, id.Actor{ID: "plant-a", Role: id.RolePlant})
package requestcontext

import (
	"context"
	"time"

	id "hycredit/pkg/domain"
)

type (
	actorKey       struct{}
	tokenIDKey     struct{}
	clientIPKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue.
var (
	ContextKeyActor       = actorKey{}
	ContextKeyTokenID     = tokenIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Authenticated actor
// -----------------------------------------------------------------------------

// Actor returns the authenticated actor, or the zero Actor when unauthenticated.
func Actor(ctx context.Context) id.Actor {
	if a, ok := ctx.Value(ContextKeyActor).(id.Actor); ok {
		return a
	}
	return id.Actor{}
}

func WithActor(ctx context.Context, actor id.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// TokenID returns the jti of the bearer token that authenticated the request.
func TokenID(ctx context.Context) string {
	if jti, ok := ctx.Value(ContextKeyTokenID).(string); ok {
		return jti
	}
	return ""
}

func WithTokenID(ctx context.Context, jti string) context.Context {
	return context.WithValue(ctx, ContextKeyTokenID, jti)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// RequestID retrieves the HTTP request correlation id.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() outside HTTP requests (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
