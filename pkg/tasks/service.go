package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// OrganizationFinder is the slice of orgs.Store the service needs.
type OrganizationFinder interface {
	FindByID(ctx context.Context, id string) (*orgs.Organization, error)
}

// Auditor records task mutations and refused operations.
type Auditor interface {
	Record(ctx context.Context, e *audit.Entry) error
	RecordDenied(ctx context.Context, u *auth.User, resource audit.Resource, resourceID, orgID string, denied *rbac.DeniedError)
}

// ListOptions is the input for Service.List.
type ListOptions struct {
	Filter     Filter
	Sort       Sort
	Pagination Pagination
}

// Service applies access policy and auditing around the task store.
type Service struct {
	store   Store
	orgs    OrganizationFinder
	scoper  *Scoper
	policy  *rbac.Engine
	audit   Auditor
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a Service
func NewService(store Store, orgFinder OrganizationFinder, scoper *Scoper, policy *rbac.Engine, auditor Auditor, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		orgs:    orgFinder,
		scoper:  scoper,
		policy:  policy,
		audit:   auditor,
		logger:  logger.WithField("component", "tasks"),
		metrics: metrics,
		now:     time.Now,
	}
}

// enforce turns a denied decision into its error and records the refusal.
func (s *Service) enforce(ctx context.Context, u *auth.User, check string, d rbac.Decision, taskID, orgID string) error {
	err := d.Err(check)
	if err == nil {
		return nil
	}
	var denied *rbac.DeniedError
	if errors.As(err, &denied) {
		s.audit.RecordDenied(ctx, u, audit.ResourceTask, taskID, orgID, denied)
	}
	return err
}

// load fetches a task the caller can see. A task outside the caller's
// organizations reads as not found.
func (s *Service) load(ctx context.Context, u *auth.User, id string) (*Task, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := s.policy.ViewTask(ctx, u, t)
	if err != nil {
		return nil, err
	}
	if err := s.enforce(ctx, u, rbac.CheckViewTask, d, t.ID, t.OrganizationID); err != nil {
		return nil, apperrors.NotFoundf("task %s", id)
	}
	return t, nil
}

// List returns the page of tasks u may see.
func (s *Service) List(ctx context.Context, u *auth.User, opts ListOptions) (*ListResult, error) {
	return s.scoper.ScopedTasks(ctx, u, opts.Filter, opts.Sort, opts.Pagination)
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, u *auth.User, id string) (*Task, error) {
	return s.load(ctx, u, id)
}

// Create stores a new task in req.OrganizationID. Only Owners and Admins
// with access to that organization may create tasks.
func (s *Service) Create(ctx context.Context, u *auth.User, req CreateRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	d, err := s.policy.CreateTask(ctx, u, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.enforce(ctx, u, rbac.CheckCreateTask, d, "", req.OrganizationID); err != nil {
		return nil, err
	}

	org, err := s.orgs.FindByID(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	t := req.Task(u.ID, s.now().UTC())
	err = s.store.Insert(ctx, t)
	s.metrics.RecordTaskMutation("create", err)
	if err != nil {
		return nil, err
	}
	t.Organization = &OrganizationRef{ID: org.ID, Name: org.Name}
	t.CreatedBy = &Creator{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}

	observability.FromContext(ctx, s.logger).WithFields(map[string]interface{}{
		"task_id":         t.ID,
		"organization_id": t.OrganizationID,
	}).Info("task created")

	if err := s.audit.Record(ctx, &audit.Entry{
		Action:         audit.ActionCreate,
		Resource:       audit.ResourceTask,
		ResourceID:     t.ID,
		UserID:         u.ID,
		OrganizationID: t.OrganizationID,
		Details:        fmt.Sprintf("Task %q created", t.Title),
		Metadata: map[string]interface{}{
			"taskId":   t.ID,
			"title":    t.Title,
			"priority": string(t.Priority),
		},
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies req to the task. The caller must see the task, and the
// edit policy decides which fields they may touch.
func (s *Service) Update(ctx context.Context, u *auth.User, id string, req UpdateRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t, err := s.load(ctx, u, id)
	if err != nil {
		return nil, err
	}

	d, err := s.policy.EditTask(ctx, u, t, req.Fields())
	if err != nil {
		return nil, err
	}
	if err := s.enforce(ctx, u, rbac.CheckEditTask, d, t.ID, t.OrganizationID); err != nil {
		return nil, err
	}

	changes := req.Apply(t)
	t.UpdatedAt = s.now().UTC()
	err = s.store.Update(ctx, t)
	s.metrics.RecordTaskMutation("update", err)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, &audit.Entry{
		Action:         audit.ActionUpdate,
		Resource:       audit.ResourceTask,
		ResourceID:     t.ID,
		UserID:         u.ID,
		OrganizationID: t.OrganizationID,
		Details:        fmt.Sprintf("Task %q updated", t.Title),
		Metadata: map[string]interface{}{
			"taskId":  t.ID,
			"changes": changes,
		},
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes the task. Viewers never delete.
func (s *Service) Delete(ctx context.Context, u *auth.User, id string) error {
	t, err := s.load(ctx, u, id)
	if err != nil {
		return err
	}

	d, err := s.policy.DeleteTask(ctx, u, t)
	if err != nil {
		return err
	}
	if err := s.enforce(ctx, u, rbac.CheckDeleteTask, d, t.ID, t.OrganizationID); err != nil {
		return err
	}

	err = s.store.Delete(ctx, t.ID)
	s.metrics.RecordTaskMutation("delete", err)
	if err != nil {
		return err
	}

	observability.FromContext(ctx, s.logger).WithField("task_id", t.ID).Info("task deleted")

	return s.audit.Record(ctx, &audit.Entry{
		Action:         audit.ActionDelete,
		Resource:       audit.ResourceTask,
		ResourceID:     t.ID,
		UserID:         u.ID,
		OrganizationID: t.OrganizationID,
		Details:        fmt.Sprintf("Task %q deleted", t.Title),
		Metadata: map[string]interface{}{
			"taskId": t.ID,
			"title":  t.Title,
		},
	})
}
