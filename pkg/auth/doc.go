// Package auth holds the identity side of taskguard: the role hierarchy, the
// authenticated user snapshot and the authenticators that produce it.
//
// # Roles
//
// Roles are totally ordered Owner > Admin > Viewer (levels 3, 2, 1).
//
//	auth.Dominates(auth.RoleOwner, auth.RoleViewer)         // true
//	auth.StrictlyDominates(auth.RoleAdmin, auth.RoleAdmin)  // false
//	auth.MaxAssignableRole(auth.RoleOwner)                  // RoleAdmin
//	auth.ManageableRoles(auth.RoleAdmin)                    // [viewer]
//
// # Identity
//
// A User is a snapshot: id, role, home organization id and the home
// organization's parent pointer. Bearer tokens are verified either by a
// TokenIssuer (HS256 shared secret) or an OIDCAuthenticator, and the
// middleware package loads the snapshot through a UserStore so role changes
// take effect on the next request.
package auth
