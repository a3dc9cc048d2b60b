package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// Status is a task's workflow state.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Priority ranks tasks from low to critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Category groups tasks.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryHealth   Category = "health"
	CategoryShopping Category = "shopping"
	CategoryOther    Category = "other"
)

var (
	statuses   = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusDone}
	priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	categories = []Category{CategoryWork, CategoryPersonal, CategoryHealth, CategoryShopping, CategoryOther}
)

func (s Status) Valid() bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (p Priority) Valid() bool {
	for _, v := range priorities {
		if v == p {
			return true
		}
	}
	return false
}

func (c Category) Valid() bool {
	for _, v := range categories {
		if v == c {
			return true
		}
	}
	return false
}

// ValidStatus, ValidPriority and ValidCategory adapt the enums for query
// parsing.
func ValidStatus(s string) error {
	if !Status(s).Valid() {
		return fmt.Errorf("must be one of %s", joinEnum(statuses))
	}
	return nil
}

func ValidPriority(s string) error {
	if !Priority(s).Valid() {
		return fmt.Errorf("must be one of %s", joinEnum(priorities))
	}
	return nil
}

func ValidCategory(s string) error {
	if !Category(s).Valid() {
		return fmt.Errorf("must be one of %s", joinEnum(categories))
	}
	return nil
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// Creator is the joined creating user.
type Creator struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// OrganizationRef is the joined owning organization.
type OrganizationRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is owned by exactly one organization, fixed at creation.
type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    *string    `json:"description"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	Category       Category   `json:"category"`
	DueDate        *time.Time `json:"dueDate"`
	CreatedByID    string     `json:"createdById"`
	OrganizationID string     `json:"organizationId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	CreatedBy    *Creator         `json:"createdBy,omitempty"`
	Organization *OrganizationRef `json:"organization,omitempty"`
}

// OwningOrganizationID implements rbac.OrgOwned.
func (t *Task) OwningOrganizationID() string {
	return t.OrganizationID
}

const maxTitleLength = 255

func validateTitle(v *apperrors.ValidationError, title string) {
	switch {
	case strings.TrimSpace(title) == "":
		v.Add("title", "is required")
	case len(title) > maxTitleLength:
		v.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
}

// CreateRequest is the input for Service.Create.
type CreateRequest struct {
	Title          string     `json:"title"`
	Description    *string    `json:"description,omitempty"`
	Category       Category   `json:"category,omitempty"`
	Priority       Priority   `json:"priority,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	OrganizationID string     `json:"organizationId"`
}

// Validate checks the request shape.
func (r *CreateRequest) Validate() error {
	v := &apperrors.ValidationError{}
	validateTitle(v, r.Title)
	if r.Category != "" && !r.Category.Valid() {
		v.Add("category", ValidCategory(string(r.Category)).Error())
	}
	if r.Priority != "" && !r.Priority.Valid() {
		v.Add("priority", ValidPriority(string(r.Priority)).Error())
	}
	if _, err := uuid.Parse(r.OrganizationID); err != nil {
		v.Add("organizationId", "must be a UUID")
	}
	return v.OrNil()
}

// Task builds a new task with defaults applied.
func (r *CreateRequest) Task(createdByID string, now time.Time) *Task {
	t := &Task{
		ID:             uuid.New().String(),
		Title:          strings.TrimSpace(r.Title),
		Description:    r.Description,
		Status:         StatusBacklog,
		Priority:       r.Priority,
		Category:       r.Category,
		DueDate:        r.DueDate,
		CreatedByID:    createdByID,
		OrganizationID: r.OrganizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Category == "" {
		t.Category = CategoryOther
	}
	return t
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Category    *Category  `json:"category,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`

	// OrganizationID is rejected when present.
	OrganizationID *string `json:"organizationId,omitempty"`
}

// Validate checks the request shape.
func (r *UpdateRequest) Validate() error {
	v := &apperrors.ValidationError{}
	if r.Title != nil {
		validateTitle(v, *r.Title)
	}
	if r.Status != nil && !r.Status.Valid() {
		v.Add("status", ValidStatus(string(*r.Status)).Error())
	}
	if r.Priority != nil && !r.Priority.Valid() {
		v.Add("priority", ValidPriority(string(*r.Priority)).Error())
	}
	if r.Category != nil && !r.Category.Valid() {
		v.Add("category", ValidCategory(string(*r.Category)).Error())
	}
	if r.OrganizationID != nil {
		v.Add("organizationId", "cannot be changed")
	}
	return v.OrNil()
}

// Fields lists the fields the request touches.
func (r *UpdateRequest) Fields() []rbac.Field {
	var fields []rbac.Field
	if r.Title != nil {
		fields = append(fields, rbac.FieldTitle)
	}
	if r.Description != nil {
		fields = append(fields, rbac.FieldDescription)
	}
	if r.Status != nil {
		fields = append(fields, rbac.FieldStatus)
	}
	if r.Priority != nil {
		fields = append(fields, rbac.FieldPriority)
	}
	if r.Category != nil {
		fields = append(fields, rbac.FieldCategory)
	}
	if r.DueDate != nil {
		fields = append(fields, rbac.FieldDueDate)
	}
	return fields
}

// Change is one field's before and after value.
type Change struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

func optString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func optTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// Apply writes the request onto t and returns the fields that actually
// changed, keyed by field name.
func (r *UpdateRequest) Apply(t *Task) map[string]Change {
	changes := map[string]Change{}
	if r.Title != nil {
		if title := strings.TrimSpace(*r.Title); title != t.Title {
			changes[string(rbac.FieldTitle)] = Change{From: t.Title, To: title}
			t.Title = title
		}
	}
	if r.Description != nil && (t.Description == nil || *r.Description != *t.Description) {
		changes[string(rbac.FieldDescription)] = Change{From: optString(t.Description), To: *r.Description}
		d := *r.Description
		t.Description = &d
	}
	if r.Status != nil && *r.Status != t.Status {
		changes[string(rbac.FieldStatus)] = Change{From: string(t.Status), To: string(*r.Status)}
		t.Status = *r.Status
	}
	if r.Priority != nil && *r.Priority != t.Priority {
		changes[string(rbac.FieldPriority)] = Change{From: string(t.Priority), To: string(*r.Priority)}
		t.Priority = *r.Priority
	}
	if r.Category != nil && *r.Category != t.Category {
		changes[string(rbac.FieldCategory)] = Change{From: string(t.Category), To: string(*r.Category)}
		t.Category = *r.Category
	}
	if r.DueDate != nil && (t.DueDate == nil || !r.DueDate.Equal(*t.DueDate)) {
		changes[string(rbac.FieldDueDate)] = Change{From: optTime(t.DueDate), To: optTime(r.DueDate)}
		d := *r.DueDate
		t.DueDate = &d
	}
	return changes
}

// Filter narrows a task listing. Every set field is ANDed.
type Filter struct {
	Status         Status
	Priority       Priority
	Category       Category
	CreatedByID    string
	OrganizationID string
}

// SortKey orders a task listing.
type SortKey string

const (
	SortCreatedAt SortKey = "createdAt"
	SortTitle     SortKey = "title"
	SortPriority  SortKey = "priority"
	SortDueDate   SortKey = "dueDate"
)

// ValidSortKey adapts SortKey for query parsing.
func ValidSortKey(s string) error {
	switch SortKey(s) {
	case SortCreatedAt, SortTitle, SortPriority, SortDueDate:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s, %s", SortCreatedAt, SortTitle, SortPriority, SortDueDate)
}

// SortOrder overrides a key's natural direction.
type SortOrder string

const (
	OrderDefault SortOrder = ""
	OrderAsc     SortOrder = "asc"
	OrderDesc    SortOrder = "desc"
)

// ValidSortOrder adapts SortOrder for query parsing.
func ValidSortOrder(s string) error {
	switch SortOrder(s) {
	case OrderAsc, OrderDesc:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s", OrderAsc, OrderDesc)
}

// Sort selects the listing order. An empty Key means newest first. With
// OrderDefault titles sort A-Z, priorities critical first and due dates
// earliest first. Tasks without a due date always sort last.
type Sort struct {
	Key   SortKey
	Order SortOrder
}

// Pagination is 1-based.
type Pagination struct {
	Page  int
	Limit int
}

// Offset is (page - 1) * limit.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ListResult is one page of tasks and the total matching count.
type ListResult struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}
