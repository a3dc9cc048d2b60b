package tasks

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

const (
	hqID       = "0b6e2d4c-0000-4000-8000-000000000001"
	downtownID = "0b6e2d4c-0000-4000-8000-000000000002"
	uptownID   = "0b6e2d4c-0000-4000-8000-000000000003"
	branchID   = "0b6e2d4c-0000-4000-8000-000000000004"
)

func strPtr(s string) *string { return &s }

func member(id string, role auth.Role, orgID string, parentID *string) *auth.User {
	return &auth.User{
		ID:             id,
		Email:          id + "@example.com",
		FirstName:      id,
		Role:           role,
		IsActive:       true,
		OrganizationID: orgID,
		Organization:   &auth.OrgRef{ID: orgID, ParentID: parentID},
	}
}

var (
	hqOwner        = member("owner", auth.RoleOwner, hqID, nil)
	hqAdmin        = member("hq-admin", auth.RoleAdmin, hqID, nil)
	downtownAdmin  = member("admin", auth.RoleAdmin, downtownID, strPtr(hqID))
	downtownViewer = member("viewer", auth.RoleViewer, downtownID, strPtr(hqID))
	uptownViewer   = member("uptown-viewer", auth.RoleViewer, uptownID, strPtr(hqID))
	branchOwner    = member("branch-owner", auth.RoleOwner, branchID, nil)
	homeless       = &auth.User{ID: "homeless", Role: auth.RoleAdmin}
)

// memStore is an in-memory Store that honors Query the way the SQL does.
type memStore struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	queries   []Query
	insertErr error
	findErr   error
}

func newMemStore(list ...*Task) *memStore {
	s := &memStore{tasks: make(map[string]*Task)}
	for _, t := range list {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memStore) matches(q Query, t *Task) bool {
	if !orgs.NewScope(q.OrganizationIDs...).Contains(t.OrganizationID) {
		return false
	}
	f := q.Filter
	switch {
	case f.Status != "" && t.Status != f.Status:
		return false
	case f.Priority != "" && t.Priority != f.Priority:
		return false
	case f.Category != "" && t.Category != f.Category:
		return false
	case f.CreatedByID != "" && t.CreatedByID != f.CreatedByID:
		return false
	case f.OrganizationID != "" && t.OrganizationID != f.OrganizationID:
		return false
	}
	return true
}

func (s *memStore) Find(_ context.Context, q Query) ([]*Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.findErr != nil {
		return nil, 0, s.findErr
	}

	out := []*Task{}
	for _, t := range s.tasks {
		if s.matches(q, t) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	if q.Offset >= len(out) {
		return []*Task{}, total, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFoundf("task %s", id)
	}
	c := *t
	return &c, nil
}

func (s *memStore) Insert(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	c := *t
	s.tasks[t.ID] = &c
	return nil
}

func (s *memStore) Update(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return apperrors.NotFoundf("task %s", t.ID)
	}
	c := *t
	s.tasks[t.ID] = &c
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return apperrors.NotFoundf("task %s", id)
	}
	delete(s.tasks, id)
	return nil
}

// orgDirectory serves both the scope resolver and the service.
type orgDirectory struct {
	orgs       map[string]*orgs.Organization
	childCalls int
}

func newOrgDirectory() *orgDirectory {
	d := &orgDirectory{orgs: map[string]*orgs.Organization{}}
	for _, o := range []*orgs.Organization{
		{ID: hqID, Name: "HQ", IsActive: true},
		{ID: downtownID, Name: "Downtown", IsActive: true, ParentID: strPtr(hqID)},
		{ID: uptownID, Name: "Uptown", IsActive: true, ParentID: strPtr(hqID)},
		{ID: branchID, Name: "Branch", IsActive: true},
	} {
		d.orgs[o.ID] = o
	}
	return d
}

func (d *orgDirectory) FindByID(_ context.Context, id string) (*orgs.Organization, error) {
	if o, ok := d.orgs[id]; ok {
		return o, nil
	}
	return nil, apperrors.NotFoundf("organization %s", id)
}

func (d *orgDirectory) FindByParentID(_ context.Context, parentID string) ([]*orgs.Organization, error) {
	d.childCalls++
	var out []*orgs.Organization
	for _, id := range []string{hqID, downtownID, uptownID, branchID} {
		o := d.orgs[id]
		if o.ParentID != nil && *o.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out, nil
}

// recordingAuditor captures entries instead of writing them.
type recordingAuditor struct {
	mu        sync.Mutex
	entries   []*audit.Entry
	denied    []*rbac.DeniedError
	recordErr error
}

func (a *recordingAuditor) Record(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recordErr != nil {
		return &audit.WriteError{Action: e.Action, Err: a.recordErr}
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAuditor) RecordDenied(_ context.Context, u *auth.User, resource audit.Resource, resourceID, orgID string, denied *rbac.DeniedError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denied = append(a.denied, denied)
	a.entries = append(a.entries, &audit.Entry{
		Action:         audit.ActionAccessDenied,
		Resource:       resource,
		ResourceID:     resourceID,
		UserID:         u.ID,
		OrganizationID: orgID,
	})
}

func (a *recordingAuditor) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedTask(id, orgID, createdBy string, status Status, priority Priority, age time.Duration) *Task {
	return &Task{
		ID:             id,
		Title:          "Task " + id,
		Status:         status,
		Priority:       priority,
		Category:       CategoryWork,
		CreatedByID:    createdBy,
		OrganizationID: orgID,
		CreatedAt:      baseTime.Add(-age),
		UpdatedAt:      baseTime.Add(-age),
	}
}

type serviceFixture struct {
	store   *memStore
	orgs    *orgDirectory
	auditor *recordingAuditor
	service *Service
}

func newServiceFixture(t *testing.T, opts rbac.Options, seed ...*Task) *serviceFixture {
	t.Helper()
	logger := observability.NewNopLogger()
	store := newMemStore(seed...)
	dir := newOrgDirectory()
	resolver := orgs.NewScopeResolver(dir, logger, nil)
	engine := rbac.NewEngine(resolver, opts, logger, nil)
	scoper := NewScoper(resolver, store, PageOptions{}, logger, nil)
	auditor := &recordingAuditor{}
	svc := NewService(store, dir, scoper, engine, auditor, logger, nil)
	svc.now = func() time.Time { return baseTime }
	return &serviceFixture{store: store, orgs: dir, auditor: auditor, service: svc}
}
