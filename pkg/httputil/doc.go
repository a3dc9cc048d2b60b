// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, task)
//	httputil.WriteServiceError(w, err) // maps apperrors sentinels to 400/401/403/404/500
//
// # Request Parsing
//
//	q := httputil.NewQueryParser(r)
//	page := q.Int("page", 1, 1, 0)
//	limit := q.Int("limit", 10, 1, 100)
//	if err := q.Err(); err != nil {
//		httputil.WriteServiceError(w, err)
//		return
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
