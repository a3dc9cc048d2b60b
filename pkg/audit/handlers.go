package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// ScopeSource resolves a user's accessible organizations.
type ScopeSource interface {
	AccessibleOrganizationIDs(ctx context.Context, u *auth.User) (orgs.Scope, error)
}

// Handlers serves the audit log API
type Handlers struct {
	recorder *Recorder
	policy   *rbac.Engine
	scopes   ScopeSource
	maxLimit int
	logger   *observability.Logger
}

// NewHandlers creates new audit handlers. maxLimit caps the limit query
// parameter.
func NewHandlers(recorder *Recorder, policy *rbac.Engine, scopes ScopeSource, maxLimit int, logger *observability.Logger) *Handlers {
	return &Handlers{
		recorder: recorder,
		policy:   policy,
		scopes:   scopes,
		maxLimit: maxLimit,
		logger:   logger.WithField("component", "audit-api"),
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-log", h.listLogs).Methods(http.MethodGet)
	router.HandleFunc("/audit-log/summary", h.summary).Methods(http.MethodGet)
}

// authorize checks ReadAudit and records the refusal.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, u *auth.User, orgID string) bool {
	d, err := h.policy.ReadAudit(r.Context(), u, orgID)
	if err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("audit access check failed")
		httputil.WriteServiceError(w, err)
		return false
	}
	if !d.Allowed {
		denied := d.Err(rbac.CheckReadAudit)
		var de *rbac.DeniedError
		if errors.As(denied, &de) {
			h.recorder.RecordDenied(r.Context(), u, ResourceOrganization, orgID, orgID, de)
		}
		httputil.WriteServiceError(w, denied)
		return false
	}
	return true
}

func (h *Handlers) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, apperrors.ErrUnauthorized)
	}
	return u, ok
}

func validResource(s string) error {
	_, err := ParseResource(s)
	return err
}

func validAction(s string) error {
	_, err := ParseAction(s)
	return err
}

func parseFilter(r *http.Request, maxLimit int) (Filter, string, error) {
	q := httputil.NewQueryParser(r)
	f := Filter{
		UserID:    q.UUID("userId"),
		Resource:  Resource(q.Enum("resource", validResource)),
		Action:    Action(q.Enum("action", validAction)),
		StartDate: q.Time("startDate"),
		EndDate:   q.Time("endDate"),
		Limit:     q.Int("limit", 0, 1, maxLimit),
		Offset:    q.Int("offset", 0, 0, 0),
	}
	orgID := q.UUID("organizationId")
	return f, orgID, q.Err()
}

// listLogs handles GET /audit-log
func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	f, orgID, err := parseFilter(r, h.maxLimit)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !h.authorize(w, r, u, orgID) {
		return
	}

	var orgIDs []string
	if orgID != "" {
		orgIDs = []string{orgID}
	} else {
		// userId narrows only single-organization queries.
		f.UserID = ""
		scope, err := h.scopes.AccessibleOrganizationIDs(r.Context(), u)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		orgIDs = scope.IDs()
	}

	page, err := h.recorder.QueryByOrganizations(r.Context(), orgIDs, f)
	if err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("failed to list audit logs")
		httputil.WriteServiceError(w, err)
		return
	}

	if httputil.WantsCSV(r) {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, page.Entries); err != nil {
			httputil.WriteServiceError(w, fmt.Errorf("failed to render csv: %w", err))
			return
		}
		httputil.WriteAttachment(w, FormatCSV.ContentType(), "audit-logs.csv", buf.Bytes())
		return
	}
	_ = httputil.WriteSuccess(w, page)
}

// summary handles GET /audit-log/summary
func (h *Handlers) summary(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, u, "") {
		return
	}

	scope, err := h.scopes.AccessibleOrganizationIDs(r.Context(), u)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	summary, err := h.recorder.Summarize(r.Context(), scope.IDs())
	if err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("failed to summarize audit logs")
		httputil.WriteServiceError(w, err)
		return
	}

	if httputil.WantsCSV(r) {
		var buf bytes.Buffer
		if err := WriteSummaryCSV(&buf, summary); err != nil {
			httputil.WriteServiceError(w, fmt.Errorf("failed to render csv: %w", err))
			return
		}
		httputil.WriteAttachment(w, FormatCSV.ContentType(), "audit-summary.csv", buf.Bytes())
		return
	}
	_ = httputil.WriteSuccess(w, summary)
}
