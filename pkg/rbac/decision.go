package rbac

import (
	"fmt"
	"time"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// Reason explains a denied Decision.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoOrganizationAccess Reason = "no_organization_access"
	ReasonInsufficientRole     Reason = "insufficient_role"
	ReasonNotFound             Reason = "not_found"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    Reason    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

func allow() Decision {
	return Decision{Allowed: true, CheckedAt: time.Now()}
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason, CheckedAt: time.Now()}
}

// Err converts a denied decision into a DeniedError, nil when allowed.
func (d Decision) Err(check string) error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Check: check, Reason: d.Reason}
}

// DeniedError is returned when a policy check fails. It unwraps to
// apperrors.ErrNotFound for ReasonNotFound and apperrors.ErrForbidden
// otherwise.
type DeniedError struct {
	Check  string
	Reason Reason
}

func (e *DeniedError) Error() string {
	if e.Reason == ReasonNotFound {
		return fmt.Sprintf("%s: not found", e.Check)
	}
	return fmt.Sprintf("%s denied: %s", e.Check, e.Reason)
}

func (e *DeniedError) Unwrap() error {
	if e.Reason == ReasonNotFound {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrForbidden
}

// Check names used in decisions, logs and metrics.
const (
	CheckOrganizationAccess = "organization_access"
	CheckCreateTask         = "create_task"
	CheckViewTask           = "view_task"
	CheckEditTask           = "edit_task"
	CheckDeleteTask         = "delete_task"
	CheckManageUser         = "manage_user"
	CheckViewUser           = "view_user"
	CheckReadAudit          = "read_audit"
)
