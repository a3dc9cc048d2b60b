package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
)

// OrganizationDirectory lists organizations on behalf of a user.
type OrganizationDirectory interface {
	Accessible(ctx context.Context, u *auth.User) ([]*orgs.Organization, error)
	Visible(ctx context.Context, u *auth.User) ([]*orgs.Organization, error)
}

// OrgHandlers handles organization-related HTTP requests
type OrgHandlers struct {
	directory OrganizationDirectory
	logger    *observability.Logger
}

// NewOrgHandlers creates a new OrgHandlers
func NewOrgHandlers(directory OrganizationDirectory, logger *observability.Logger) *OrgHandlers {
	return &OrgHandlers{directory: directory, logger: logger.WithField("component", "organizations-api")}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.listOrganizations).Methods(http.MethodGet)
	router.HandleFunc("/organizations/accessible", h.accessibleOrganizations).Methods(http.MethodGet)
}

// listOrganizations handles GET /organizations. Owners see every
// organization ordered by name.
func (h *OrgHandlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.directory.Visible(r.Context(), u)
	if err != nil {
		writeError(w, r, h.logger, "failed to list organizations", err)
		return
	}
	_ = httputil.WriteSuccess(w, orgs.Summarize(list))
}

// accessibleOrganizations handles GET /organizations/accessible
func (h *OrgHandlers) accessibleOrganizations(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.directory.Accessible(r.Context(), u)
	if err != nil {
		writeError(w, r, h.logger, "failed to list accessible organizations", err)
		return
	}
	_ = httputil.WriteSuccess(w, orgs.Summarize(list))
}
