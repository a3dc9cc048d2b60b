package api

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
)

type messageResponse struct {
	Message string `json:"message"`
}

// ProfileResponse is the authenticated user's own view of themselves.
type ProfileResponse struct {
	ID             string       `json:"id"`
	Email          string       `json:"email"`
	FirstName      string       `json:"firstName"`
	LastName       string       `json:"lastName"`
	Role           auth.Role    `json:"role"`
	OrganizationID string       `json:"organizationId,omitempty"`
	Organization   *auth.OrgRef `json:"organization,omitempty"`
	Permissions    []string     `json:"permissions"`
}

func newProfile(u *auth.User) ProfileResponse {
	return ProfileResponse{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		Organization:   u.Organization,
		Permissions:    auth.Permissions(u.Role, u.OrganizationID),
	}
}

// UserResponse is another user as seen by the caller.
type UserResponse struct {
	*auth.User
	Manageable      bool        `json:"manageable"`
	AssignableRoles []auth.Role `json:"assignableRoles"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the request shape.
func (r *LoginRequest) Validate() error {
	v := &apperrors.ValidationError{}
	validateEmail(v, r.Email)
	validatePassword(v, r.Password)
	return v.OrNil()
}

// LoginResponse carries the signed token and the user it was issued to.
type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	User        ProfileResponse `json:"user"`
}

// RegisterRequest is the body of POST /auth/register. Role defaults to
// viewer and OrganizationID to the caller's own organization.
type RegisterRequest struct {
	Email          string    `json:"email"`
	Password       string    `json:"password"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Role           auth.Role `json:"role,omitempty"`
}

// Validate checks the request shape.
func (r *RegisterRequest) Validate() error {
	v := &apperrors.ValidationError{}
	validateEmail(v, r.Email)
	validatePassword(v, r.Password)
	if strings.TrimSpace(r.FirstName) == "" {
		v.Add("firstName", "is required")
	}
	if strings.TrimSpace(r.LastName) == "" {
		v.Add("lastName", "is required")
	}
	if r.OrganizationID != "" {
		if _, err := uuid.Parse(r.OrganizationID); err != nil {
			v.Add("organizationId", "must be a valid UUID")
		}
	}
	if r.Role != "" {
		if _, err := auth.ParseRole(string(r.Role)); err != nil {
			v.Add("role", err.Error())
		}
	}
	return v.OrNil()
}

// UpdateProfileRequest is the body of POST /auth/profile. Nil fields are
// left unchanged.
type UpdateProfileRequest struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// Validate checks the request shape.
func (r *UpdateProfileRequest) Validate() error {
	v := &apperrors.ValidationError{}
	if r.FirstName == nil && r.LastName == nil && r.Email == nil {
		v.Add("body", "no fields to update")
	}
	if r.FirstName != nil && strings.TrimSpace(*r.FirstName) == "" {
		v.Add("firstName", "cannot be empty")
	}
	if r.LastName != nil && strings.TrimSpace(*r.LastName) == "" {
		v.Add("lastName", "cannot be empty")
	}
	if r.Email != nil {
		validateEmail(v, *r.Email)
	}
	return v.OrNil()
}

// Apply writes the request onto u and returns the names of the fields
// that changed.
func (r *UpdateProfileRequest) Apply(u *auth.User) []string {
	var changed []string
	if r.FirstName != nil {
		if name := strings.TrimSpace(*r.FirstName); name != u.FirstName {
			u.FirstName = name
			changed = append(changed, "firstName")
		}
	}
	if r.LastName != nil {
		if name := strings.TrimSpace(*r.LastName); name != u.LastName {
			u.LastName = name
			changed = append(changed, "lastName")
		}
	}
	if r.Email != nil {
		if email := normalizeEmail(*r.Email); email != u.Email {
			u.Email = email
			changed = append(changed, "email")
		}
	}
	return changed
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateEmail accepts a bare address only, not a display name form.
func validateEmail(v *apperrors.ValidationError, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		v.Add("email", "is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		v.Add("email", "must be a valid email address")
	}
}

func validatePassword(v *apperrors.ValidationError, password string) {
	if len(password) < auth.MinPasswordLength {
		v.Add("password", fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	}
}
