package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// UserFinder loads users by id.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
}

// DenialRecorder records refused operations.
type DenialRecorder interface {
	RecordDenied(ctx context.Context, u *auth.User, resource audit.Resource, resourceID, orgID string, denied *rbac.DeniedError)
}

// UserHandlers serves user lookups.
type UserHandlers struct {
	users   UserFinder
	policy  *rbac.Engine
	denials DenialRecorder
	logger  *observability.Logger
}

// NewUserHandlers creates UserHandlers
func NewUserHandlers(users UserFinder, policy *rbac.Engine, denials DenialRecorder, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{
		users:   users,
		policy:  policy,
		denials: denials,
		logger:  logger.WithField("component", "users-api"),
	}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
}

// getUser handles GET /users/{id}. A user the caller may not see reads as
// not found.
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	target, err := h.users.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, "failed to load user", err)
		return
	}

	view, err := h.policy.ViewUser(r.Context(), actor, target)
	if err != nil {
		writeError(w, r, h.logger, "user visibility check failed", err)
		return
	}
	if !view.Allowed {
		denied := view.Err(rbac.CheckViewUser)
		var de *rbac.DeniedError
		if errors.As(denied, &de) {
			h.denials.RecordDenied(r.Context(), actor, audit.ResourceUser, target.ID, target.OrganizationID, de)
		}
		httputil.WriteServiceError(w, denied)
		return
	}

	manage, err := h.policy.ManageUser(r.Context(), actor, target)
	if err != nil {
		writeError(w, r, h.logger, "user management check failed", err)
		return
	}

	resp := UserResponse{User: target, Manageable: manage.Allowed, AssignableRoles: []auth.Role{}}
	if manage.Allowed {
		for _, role := range []auth.Role{auth.RoleOwner, auth.RoleAdmin, auth.RoleViewer} {
			if auth.CanAssignRole(actor.Role, role) {
				resp.AssignableRoles = append(resp.AssignableRoles, role)
			}
		}
	}
	_ = httputil.WriteSuccess(w, resp)
}
