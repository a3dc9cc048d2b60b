package rbac

import (
	"fmt"
	"strings"
)

// Field names a task attribute that an update may change.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldStatus      Field = "status"
	FieldPriority    Field = "priority"
	FieldCategory    Field = "category"
	FieldDueDate     Field = "dueDate"
)

// TaskFields lists every editable task field.
var TaskFields = []Field{FieldTitle, FieldDescription, FieldStatus, FieldPriority, FieldCategory, FieldDueDate}

// FieldSet restricts which fields a Viewer may change. A nil FieldSet
// allows every field.
type FieldSet map[Field]struct{}

// ParseFields validates names against TaskFields. No names yields nil.
func ParseFields(names []string) (FieldSet, error) {
	var set FieldSet
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if !knownField(Field(name)) {
			return nil, fmt.Errorf("unknown task field %q", name)
		}
		if set == nil {
			set = make(FieldSet)
		}
		set[Field(name)] = struct{}{}
	}
	return set, nil
}

func knownField(f Field) bool {
	for _, k := range TaskFields {
		if k == f {
			return true
		}
	}
	return false
}

// Unrestricted reports whether every field is allowed.
func (s FieldSet) Unrestricted() bool {
	return s == nil
}

// Disallowed returns the first field in fields not in the set.
func (s FieldSet) Disallowed(fields []Field) (Field, bool) {
	if s == nil {
		return "", false
	}
	for _, f := range fields {
		if _, ok := s[f]; !ok {
			return f, true
		}
	}
	return "", false
}
