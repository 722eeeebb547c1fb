// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// CurrentUserKey contains the *gate.Identity resolved by the
	// authorization gate for this request.
	// Set by: gate.Wrap (pkg/gate/gate.go)
	// Required by: protected handlers via gate.CurrentIdentity
	CurrentUserKey Key = "current_user"

	// SessionIDKey contains the session identifier string
	// Set by: gate.Wrap after the session is loaded or created
	// Used by: handlers that mutate session state (login/logout)
	SessionIDKey Key = "session_id"

	// RequestIDKey contains request ID string
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger
	RequestIDKey Key = "request_id"
)

// WithCurrentUser adds the resolved user to the context
func WithCurrentUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, CurrentUserKey, user)
}

// WithSessionID adds the session identifier to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetSessionID retrieves the session identifier from context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
