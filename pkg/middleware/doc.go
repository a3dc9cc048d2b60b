// Package middleware authenticates API requests and limits their rate.
//
// AuthMiddleware accepts a bearer token, verifies it with the configured
// authenticators (signed HS256 tokens, optionally OpenID Connect ID
// tokens) and loads the caller's current snapshot. Inactive or unknown
// users are rejected with 401. Each authenticated request carries its own
// organization scope memo so the scope is resolved at most once per
// request.
//
//	authn := middleware.NewAuthMiddleware(users, logger, issuer)
//	api.Use(authn.Handler)
//	admin.Use(middleware.RequireRole(auth.RoleAdmin))
//
// RateLimitMiddleware keys callers by user id, falling back to the client
// address. The in-process RateLimiter is a token bucket; the
// DistributedRateLimiter keeps a fixed-window counter in Redis. A limiter
// error never blocks a request.
package middleware
