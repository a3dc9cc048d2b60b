// Package api exposes the task, organization, user and session endpoints
// over HTTP.
//
// Every route under /api requires a bearer token. Handlers decode and
// validate input, call into the services and map service errors onto
// status codes with httputil.WriteServiceError: not found and out of
// scope both read as 404, policy refusals as 403, validation failures as
// 400 with field details.
//
//	srv := api.NewServer(api.Config{
//		Authn:      authn,
//		Limiter:    limiter,
//		Logger:     logger,
//		Registrars: []api.RouteRegistrar{taskHandlers, orgHandlers, auditHandlers},
//	})
package api
