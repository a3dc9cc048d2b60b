// Package contextkeys provides centralized context key definitions
//
// All context keys used across taskguard are defined here so key usage is
// discoverable from one place.
//
// Values are stored untyped; the owning package (auth, orgs, audit,
// observability) wraps each key with a typed getter.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *auth.User
	// Set by: auth.WithUser from middleware.AuthMiddleware
	// Required by: every /api handler
	UserKey Key = "user"

	// ScopeMemoKey contains *orgs.scopeMemo
	// Set by: orgs.WithScopeMemo from middleware.AuthMiddleware
	// Used by: orgs.ScopeResolver so a request resolves its scope once
	ScopeMemoKey Key = "scope_memo"

	// RequestIDKey contains the request id (client supplied or a UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user's id
	// Set by: auth.WithUser
	// Used by: observability.FromContext
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// ClientKey contains audit.Client (ip address and user agent)
	// Set by: audit.ClientMiddleware
	// Used by: audit.Recorder when stamping entries
	ClientKey Key = "client"
)

// WithUser adds the authenticated user snapshot to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithScopeMemo adds a request-scoped scope memo to the context
func WithScopeMemo(ctx context.Context, memo interface{}) context.Context {
	return context.WithValue(ctx, ScopeMemoKey, memo)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithClient adds client connection details to the context
func WithClient(ctx context.Context, client interface{}) context.Context {
	return context.WithValue(ctx, ClientKey, client)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID returns the authenticated user id, or ""
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
