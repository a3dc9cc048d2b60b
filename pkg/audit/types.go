package audit

import (
	"fmt"
	"time"
)

// Action is what happened.
type Action string

const (
	ActionCreate       Action = "create"
	ActionRead         Action = "read"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionAccessDenied Action = "access_denied"
)

// Resource is the kind of thing an entry is about.
type Resource string

const (
	ResourceTask         Resource = "task"
	ResourceUser         Resource = "user"
	ResourceOrganization Resource = "organization"
	ResourceAuth         Resource = "auth"
)

var (
	actions   = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionLogin, ActionLogout, ActionAccessDenied}
	resources = []Resource{ResourceTask, ResourceUser, ResourceOrganization, ResourceAuth}
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown audit action %q", s)
}

// ParseResource validates a resource name.
func ParseResource(s string) (Resource, error) {
	for _, r := range resources {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown audit resource %q", s)
}

// Actor is the acting user as joined from the users table.
type Actor struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	OrganizationName string `json:"organizationName,omitempty"`
}

// Name is "First Last".
func (a *Actor) Name() string {
	return a.FirstName + " " + a.LastName
}

// Entry is one append-only audit record. UserID is empty for system
// actions.
type Entry struct {
	ID             string                 `json:"id"`
	Action         Action                 `json:"action"`
	Resource       Resource               `json:"resource"`
	ResourceID     string                 `json:"resourceId,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	OrganizationID string                 `json:"organizationId,omitempty"`
	IPAddress      string                 `json:"ipAddress"`
	UserAgent      string                 `json:"userAgent,omitempty"`
	Details        string                 `json:"details,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`

	// User is populated on reads only.
	User *Actor `json:"user,omitempty"`
}

// Filter narrows audit reads. An empty OrganizationIDs is unrestricted at
// the store level; Recorder never passes one.
type Filter struct {
	OrganizationIDs []string
	UserID          string
	Resource        Resource
	Action          Action
	StartDate       *time.Time
	EndDate         *time.Time
	Limit           int
	Offset          int
}

// Page is a window of entries plus the total matching count.
type Page struct {
	Entries []*Entry `json:"auditLogs"`
	Total   int      `json:"total"`
}

// Summary is the audit overview for a set of organizations.
type Summary struct {
	TotalLogs               int      `json:"totalLogs"`
	RecentActivity          []*Entry `json:"recentActivity"`
	AccessibleOrganizations int      `json:"accessibleOrganizations"`
}
