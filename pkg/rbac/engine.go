package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
)

// ScopeSource resolves a user's accessible organizations.
type ScopeSource interface {
	AccessibleOrganizationIDs(ctx context.Context, u *auth.User) (orgs.Scope, error)
}

// Options configures an Engine.
type Options struct {
	// StrictOrgScope intersects a root Owner/Admin's claimed target
	// organization with their resolved scope instead of granting any id.
	StrictOrgScope bool
	// ViewerEditableFields limits the fields a Viewer may update. Nil
	// allows every field.
	ViewerEditableFields FieldSet
}

// Engine evaluates access decisions.
type Engine struct {
	scopes  ScopeSource
	opts    Options
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine
func NewEngine(scopes ScopeSource, opts Options, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		scopes:  scopes,
		opts:    opts,
		logger:  logger.WithField("component", "policy"),
		metrics: metrics,
	}
}

// Options returns the engine configuration.
func (e *Engine) Options() Options {
	return e.opts
}

func (e *Engine) record(ctx context.Context, check string, u *auth.User, target string, d Decision) Decision {
	e.metrics.RecordPolicyDecision(check, d.Allowed, string(d.Reason))
	if !d.Allowed {
		var role auth.Role
		if u != nil {
			role = u.Role
		}
		observability.FromContext(ctx, e.logger).WithFields(map[string]interface{}{
			"check":  check,
			"reason": string(d.Reason),
			"role":   string(role),
			"target": target,
		}).Debug("access denied")
	}
	return d
}

func userID(u *auth.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

// organizationAccess is HasAccessToOrganization plus the strict-scope
// intersection. A scope lookup failure denies.
func (e *Engine) organizationAccess(ctx context.Context, u *auth.User, orgID string) (Decision, error) {
	if !HasAccessToOrganization(u, orgID) {
		return deny(ReasonNoOrganizationAccess), nil
	}
	if !e.opts.StrictOrgScope || orgID == u.OrganizationID {
		return allow(), nil
	}

	scope, err := e.scopes.AccessibleOrganizationIDs(ctx, u)
	if err != nil {
		return deny(ReasonNoOrganizationAccess), fmt.Errorf("failed to resolve organization scope: %w", err)
	}
	if !scope.Contains(orgID) {
		return deny(ReasonNoOrganizationAccess), nil
	}
	return allow(), nil
}

// OrganizationAccess decides whether u may act within orgID.
func (e *Engine) OrganizationAccess(ctx context.Context, u *auth.User, orgID string) (Decision, error) {
	d, err := e.organizationAccess(ctx, u, orgID)
	return e.record(ctx, CheckOrganizationAccess, u, orgID, d), err
}

// CreateTask decides whether u may create a task in orgID. Only Owners
// and Admins create tasks.
func (e *Engine) CreateTask(ctx context.Context, u *auth.User, orgID string) (Decision, error) {
	if u == nil {
		return e.record(ctx, CheckCreateTask, u, orgID, deny(ReasonNoOrganizationAccess)), nil
	}
	if !auth.IsAdmin(u.Role) {
		return e.record(ctx, CheckCreateTask, u, orgID, deny(ReasonInsufficientRole)), nil
	}
	d, err := e.organizationAccess(ctx, u, orgID)
	return e.record(ctx, CheckCreateTask, u, orgID, d), err
}

// ViewTask decides whether u may see t.
func (e *Engine) ViewTask(ctx context.Context, u *auth.User, t OrgOwned) (Decision, error) {
	orgID := t.OwningOrganizationID()
	d, err := e.organizationAccess(ctx, u, orgID)
	return e.record(ctx, CheckViewTask, u, orgID, d), err
}

// EditTask decides whether u may change fields of t.
func (e *Engine) EditTask(ctx context.Context, u *auth.User, t OrgOwned, fields []Field) (Decision, error) {
	orgID := t.OwningOrganizationID()
	d, err := e.organizationAccess(ctx, u, orgID)
	if err != nil || !d.Allowed || u == nil {
		return e.record(ctx, CheckEditTask, u, orgID, d), err
	}
	if u.Role == auth.RoleViewer {
		if field, bad := e.opts.ViewerEditableFields.Disallowed(fields); bad {
			return e.record(ctx, CheckEditTask, u, string(field), deny(ReasonInsufficientRole)), nil
		}
	}
	return e.record(ctx, CheckEditTask, u, orgID, d), nil
}

// DeleteTask decides whether u may delete t. Viewers never may.
func (e *Engine) DeleteTask(ctx context.Context, u *auth.User, t OrgOwned) (Decision, error) {
	orgID := t.OwningOrganizationID()
	if u == nil {
		return e.record(ctx, CheckDeleteTask, u, orgID, deny(ReasonNoOrganizationAccess)), nil
	}
	if !auth.IsAdmin(u.Role) {
		return e.record(ctx, CheckDeleteTask, u, orgID, deny(ReasonInsufficientRole)), nil
	}
	d, err := e.organizationAccess(ctx, u, orgID)
	return e.record(ctx, CheckDeleteTask, u, orgID, d), err
}

// ManageUser decides whether actor may manage target.
func (e *Engine) ManageUser(ctx context.Context, actor, target *auth.User) (Decision, error) {
	if actor == nil || target == nil {
		return e.record(ctx, CheckManageUser, actor, userID(target), deny(ReasonNoOrganizationAccess)), nil
	}
	if !CanManageUser(actor, target) {
		reason := ReasonInsufficientRole
		if actor.Role == auth.RoleOwner || (actor.Role == auth.RoleAdmin && target.Role == auth.RoleViewer) {
			reason = ReasonNoOrganizationAccess
		}
		return e.record(ctx, CheckManageUser, actor, target.ID, deny(reason)), nil
	}
	if actor.Role != auth.RoleOwner {
		return e.record(ctx, CheckManageUser, actor, target.ID, allow()), nil
	}
	d, err := e.organizationAccess(ctx, actor, target.OrganizationID)
	return e.record(ctx, CheckManageUser, actor, target.ID, d), err
}

// ViewUser decides whether viewer may see target: viewer's role must
// dominate target's and target must sit in an organization viewer can
// access. Anything else reads as not found.
func (e *Engine) ViewUser(ctx context.Context, viewer, target *auth.User) (Decision, error) {
	if viewer == nil || target == nil {
		return e.record(ctx, CheckViewUser, viewer, userID(target), deny(ReasonNoOrganizationAccess)), nil
	}
	if viewer.ID == target.ID {
		return e.record(ctx, CheckViewUser, viewer, target.ID, allow()), nil
	}
	if !auth.CanViewUserRole(viewer.Role, target.Role) {
		return e.record(ctx, CheckViewUser, viewer, target.ID, deny(ReasonNotFound)), nil
	}
	d, err := e.organizationAccess(ctx, viewer, target.OrganizationID)
	if err != nil {
		return e.record(ctx, CheckViewUser, viewer, target.ID, d), err
	}
	if !d.Allowed {
		d = deny(ReasonNotFound)
	}
	return e.record(ctx, CheckViewUser, viewer, target.ID, d), nil
}

// ReadAudit decides whether u may read audit entries, optionally for one
// organization. Only Owners and Admins read audit entries.
func (e *Engine) ReadAudit(ctx context.Context, u *auth.User, orgID string) (Decision, error) {
	if u == nil {
		return e.record(ctx, CheckReadAudit, u, orgID, deny(ReasonNoOrganizationAccess)), nil
	}
	if !auth.IsAdmin(u.Role) {
		return e.record(ctx, CheckReadAudit, u, orgID, deny(ReasonInsufficientRole)), nil
	}
	if orgID == "" {
		return e.record(ctx, CheckReadAudit, u, orgID, allow()), nil
	}
	d, err := e.organizationAccess(ctx, u, orgID)
	return e.record(ctx, CheckReadAudit, u, orgID, d), err
}
