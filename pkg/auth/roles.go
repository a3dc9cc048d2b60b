package auth

import "fmt"

var roleLevels = map[Role]int{
	RoleViewer: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Level returns the numeric level of a role. Unknown roles are level 0 and
// dominate nothing.
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Dominates reports whether a is at least as privileged as b.
func Dominates(a, b Role) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	return a.Level() >= b.Level()
}

// StrictlyDominates reports whether a is more privileged than b.
func StrictlyDominates(a, b Role) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	return a.Level() > b.Level()
}

// MaxAssignableRole is the highest role a user with role r may grant.
// Viewers cannot grant anything; Viewer is returned as the floor.
func MaxAssignableRole(r Role) Role {
	switch r {
	case RoleOwner:
		return RoleAdmin
	default:
		return RoleViewer
	}
}

// CanAssignRole reports whether assigner may grant target.
func CanAssignRole(assigner, target Role) bool {
	if assigner == RoleViewer || !assigner.Valid() {
		return false
	}
	return Dominates(MaxAssignableRole(assigner), target)
}

// ManageableRoles lists the roles a user with role r may manage.
func ManageableRoles(r Role) []Role {
	switch r {
	case RoleOwner:
		return []Role{RoleAdmin, RoleViewer}
	case RoleAdmin:
		return []Role{RoleViewer}
	default:
		return []Role{}
	}
}

// ViewableRoles lists the roles a user with role r may see.
func ViewableRoles(r Role) []Role {
	switch r {
	case RoleOwner:
		return []Role{RoleOwner, RoleAdmin, RoleViewer}
	case RoleAdmin:
		return []Role{RoleAdmin, RoleViewer}
	case RoleViewer:
		return []Role{RoleViewer}
	default:
		return []Role{}
	}
}

// CanViewUserRole reports whether a user with role viewer may see a user
// holding target.
func CanViewUserRole(viewer, target Role) bool {
	return Dominates(viewer, target)
}

// IsAdmin is true for Admin and Owner.
func IsAdmin(r Role) bool {
	return r == RoleAdmin || r == RoleOwner
}

// IsOwner is true for Owner only.
func IsOwner(r Role) bool {
	return r == RoleOwner
}

// CanManageOrganization reports whether r may change organization settings.
func CanManageOrganization(r Role) bool {
	return r == RoleOwner
}

// Permissions returns the coarse permission strings embedded in profile
// responses. orgID may be empty.
func Permissions(r Role, orgID string) []string {
	perms := []string{"auth:read-profile", "auth:update-profile"}

	switch r {
	case RoleOwner:
		perms = append(perms, "organization:*", "users:*", "tasks:*", "audit:read")
	case RoleAdmin:
		perms = append(perms, "users:read", "users:create", "users:update-viewer", "tasks:*", "organization:read")
	case RoleViewer:
		perms = append(perms, "tasks:read", "tasks:update-own", "organization:read", "users:read-basic")
	}

	if orgID != "" {
		perms = append(perms, fmt.Sprintf("organization:%s:member", orgID))
	}
	return perms
}
