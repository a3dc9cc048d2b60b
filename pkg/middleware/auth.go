package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
)

// UserLoader loads the current snapshot of an authenticated user.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
}

// AuthMiddleware resolves the bearer token to an active user.
type AuthMiddleware struct {
	authenticators []auth.Authenticator
	users          UserLoader
	logger         *observability.Logger
}

// NewAuthMiddleware tries each authenticator in order; the first one that
// accepts the token wins.
func NewAuthMiddleware(users UserLoader, logger *observability.Logger, authenticators ...auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{
		authenticators: authenticators,
		users:          users,
		logger:         logger.WithField("component", "auth"),
	}
}

// Handler rejects unauthenticated requests with 401. On success the user
// snapshot, a request-scoped scope memo and a user-tagged logger are
// placed in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := m.authenticate(r.Context(), token)
		if err != nil {
			observability.FromContext(r.Context(), m.logger).WithError(err).Debug("authentication failed")
			httputil.WriteServiceError(w, err)
			return
		}

		ctx := auth.WithUser(r.Context(), user)
		ctx = orgs.WithScopeMemo(ctx)
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx, m.logger).WithField("user_id", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(ctx context.Context, token string) (*auth.User, error) {
	var claims *auth.Claims
	var lastErr error
	for _, a := range m.authenticators {
		c, err := a.Authenticate(ctx, token)
		if err == nil {
			claims = c
			break
		}
		lastErr = err
	}
	if claims == nil {
		if lastErr == nil {
			lastErr = apperrors.ErrUnauthorized
		}
		return nil, lastErr
	}

	user, err := m.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.ErrUnauthorized
	}
	return user, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// DenyFunc observes a request RequireRole refused.
type DenyFunc func(r *http.Request, u *auth.User)

// RequireRole allows the request only when the authenticated user's role
// dominates min. Each onDeny runs before the 403 is written.
func RequireRole(min auth.Role, onDeny ...DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := auth.UserFromContext(r.Context())
			if !ok {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !auth.Dominates(u.Role, min) {
				for _, fn := range onDeny {
					fn(r, u)
				}
				httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
