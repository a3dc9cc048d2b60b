package orgs

import (
	"time"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
)

// Kind distinguishes the two levels of the organization hierarchy.
type Kind int

const (
	KindRoot Kind = iota
	KindChild
)

func (k Kind) String() string {
	if k == KindChild {
		return "child"
	}
	return "root"
}

// Organization is either a root (no parent) or a direct child of a root.
// Deeper nesting is rejected at construction time.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	ParentID    *string   `json:"parentId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Kind reports whether the organization is a root or a child.
func (o *Organization) Kind() Kind {
	if o.ParentID == nil {
		return KindRoot
	}
	return KindChild
}

// IsRoot reports whether the organization has no parent.
func (o *Organization) IsRoot() bool {
	return o.ParentID == nil
}

// Ref returns the identity-side reference used in user snapshots.
func (o *Organization) Ref() *auth.OrgRef {
	ref := &auth.OrgRef{ID: o.ID, Name: o.Name}
	if o.ParentID != nil {
		parent := *o.ParentID
		ref.ParentID = &parent
	}
	return ref
}

// Summary is the listing shape returned by the accessible organizations endpoint.
type Summary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ParentID    *string `json:"parentId"`
}

// Summarize converts organizations to their listing shape.
func Summarize(list []*Organization) []Summary {
	out := make([]Summary, 0, len(list))
	for _, o := range list {
		out = append(out, Summary{ID: o.ID, Name: o.Name, Description: o.Description, ParentID: o.ParentID})
	}
	return out
}

// NewRoot builds a root organization.
func NewRoot(name, description string) (*Organization, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("name", "is required")
	}
	return &Organization{Name: name, Description: description, IsActive: true}, nil
}

// NewChild builds a child of parent. The parent must itself be a root.
func NewChild(parent *Organization, name, description string) (*Organization, error) {
	if parent == nil || parent.ID == "" {
		return nil, apperrors.NewValidationError("parentId", "parent organization is required")
	}
	if !parent.IsRoot() {
		return nil, apperrors.NewValidationError("parentId", "organizations can only be nested one level deep")
	}
	org, err := NewRoot(name, description)
	if err != nil {
		return nil, err
	}
	parentID := parent.ID
	org.ParentID = &parentID
	return org, nil
}
