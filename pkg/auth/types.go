package auth

import "time"

// Role is a user's organization-level role. Roles are totally ordered
// Owner > Admin > Viewer.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// OrgRef is the slice of a user's home organization the policy core needs.
type OrgRef struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	ParentID *string `json:"parentId"`
}

// IsRoot reports whether the organization has no parent.
func (o *OrgRef) IsRoot() bool {
	return o != nil && o.ParentID == nil
}

// User is the authenticated identity snapshot passed into every policy
// decision. It is built once per request and never looked up by the core.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Role           Role       `json:"role"`
	IsActive       bool       `json:"isActive"`
	OrganizationID string     `json:"organizationId,omitempty"`
	Organization   *OrgRef    `json:"organization,omitempty"`
	CreatedAt      time.Time  `json:"createdAt,omitempty"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// HasOrganization reports whether the user has a resolved home organization.
func (u *User) HasOrganization() bool {
	return u != nil && u.OrganizationID != "" && u.Organization != nil
}

// AtRootOrganization reports whether the user's home organization is a root.
func (u *User) AtRootOrganization() bool {
	return u.HasOrganization() && u.Organization.IsRoot()
}
