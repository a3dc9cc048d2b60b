package orgs

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// memStore is an in-memory Store that counts lookups.
type memStore struct {
	mu           sync.Mutex
	orgs         map[string]*Organization
	byIDCalls    int
	childCalls   int
	failChildren error
}

func newMemStore(list ...*Organization) *memStore {
	s := &memStore{orgs: make(map[string]*Organization)}
	for _, o := range list {
		s.orgs[o.ID] = o
	}
	return s
}

func (s *memStore) FindByID(_ context.Context, id string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIDCalls++
	if o, ok := s.orgs[id]; ok {
		return o, nil
	}
	return nil, apperrors.NotFoundf("organization %s", id)
}

func (s *memStore) FindByParentID(_ context.Context, parentID string) ([]*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.childCalls++
	if s.failChildren != nil {
		return nil, s.failChildren
	}
	out := []*Organization{}
	for _, o := range s.orgs {
		if o.ParentID != nil && *o.ParentID == parentID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) FindByIDs(_ context.Context, ids []string) ([]*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*Organization{}
	for _, id := range ids {
		if o, ok := s.orgs[id]; ok {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) List(_ context.Context) ([]*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) Create(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
	return nil
}

func (s *memStore) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIDCalls, s.childCalls
}

func strPtr(s string) *string { return &s }

func hierarchy() []*Organization {
	return []*Organization{
		{ID: "root", Name: "Root"},
		{ID: "c1", Name: "Child One", ParentID: strPtr("root")},
		{ID: "c2", Name: "Child Two", ParentID: strPtr("root")},
		{ID: "other", Name: "Other Root"},
	}
}
