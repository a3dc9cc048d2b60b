package rbac

import "github.com/platinummonkey/taskguard/pkg/auth"

// OrgOwned is anything exclusively owned by one organization.
type OrgOwned interface {
	OwningOrganizationID() string
}

// HasAccessToOrganization is true for the user's home organization. An
// Owner or Admin whose home is a root organization is granted any target
// id without checking that the target is one of its children.
func HasAccessToOrganization(u *auth.User, orgID string) bool {
	if u == nil || orgID == "" || u.OrganizationID == "" {
		return false
	}
	if orgID == u.OrganizationID {
		return true
	}
	return u.AtRootOrganization() && auth.IsAdmin(u.Role)
}

// CanViewTask reports whether u may see t.
func CanViewTask(u *auth.User, t OrgOwned) bool {
	return HasAccessToOrganization(u, t.OwningOrganizationID())
}

// CanEditTask reports whether u may change t. Any role with organization
// access may edit; field restrictions are applied by Engine.
func CanEditTask(u *auth.User, t OrgOwned) bool {
	return HasAccessToOrganization(u, t.OwningOrganizationID())
}

// CanDeleteTask reports whether u may delete t. Viewers never may.
func CanDeleteTask(u *auth.User, t OrgOwned) bool {
	return u != nil && auth.IsAdmin(u.Role) && HasAccessToOrganization(u, t.OwningOrganizationID())
}

// CanManageUser reports whether actor may manage target. Owners manage
// anyone in an organization they can access; Admins manage Viewers in
// their own organization.
func CanManageUser(actor, target *auth.User) bool {
	if actor == nil || target == nil || actor.OrganizationID == "" || target.OrganizationID == "" {
		return false
	}
	switch actor.Role {
	case auth.RoleOwner:
		return HasAccessToOrganization(actor, target.OrganizationID)
	case auth.RoleAdmin:
		return actor.OrganizationID == target.OrganizationID && target.Role == auth.RoleViewer
	default:
		return false
	}
}
