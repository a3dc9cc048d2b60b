package orgs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/contextkeys"
	"github.com/platinummonkey/taskguard/pkg/observability"
)

// Scope is the closed set of organization ids a user may act within.
// The home organization, when present, is always first.
type Scope struct {
	ids   []string
	index map[string]struct{}
}

// NewScope builds a Scope from ids, dropping duplicates and empties.
func NewScope(ids ...string) Scope {
	s := Scope{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := s.index[id]; dup {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// IDs returns a copy of the ids in the scope.
func (s Scope) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Contains reports whether id is in the scope.
func (s Scope) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of organizations in the scope.
func (s Scope) Len() int {
	return len(s.ids)
}

// Empty reports whether the scope grants nothing.
func (s Scope) Empty() bool {
	return len(s.ids) == 0
}

// ChildFinder is the slice of Store the resolver needs.
type ChildFinder interface {
	FindByParentID(ctx context.Context, parentID string) ([]*Organization, error)
}

// ScopeResolver expands a user snapshot into the organizations they may
// act within. Expansion only flows down from a root organization, and only
// for Owners and Admins.
type ScopeResolver struct {
	store   ChildFinder
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewScopeResolver creates a ScopeResolver
func NewScopeResolver(store ChildFinder, logger *observability.Logger, metrics *observability.Metrics) *ScopeResolver {
	return &ScopeResolver{
		store:   store,
		logger:  logger.WithField("component", "scope_resolver"),
		metrics: metrics,
	}
}

// AccessibleOrganizationIDs returns the user's scope. Within a request
// carrying a scope memo the store is consulted at most once per snapshot.
func (r *ScopeResolver) AccessibleOrganizationIDs(ctx context.Context, u *auth.User) (Scope, error) {
	if !u.HasOrganization() {
		return NewScope(), nil
	}

	memo := memoFromContext(ctx)
	key := memoKey(u)
	if memo != nil {
		memo.mu.Lock()
		defer memo.mu.Unlock()
		if s, ok := memo.entries[key]; ok {
			return s, nil
		}
	}

	s, err := r.resolve(ctx, u)
	if err != nil {
		return Scope{}, err
	}
	if memo != nil {
		memo.entries[key] = s
	}
	return s, nil
}

func (r *ScopeResolver) resolve(ctx context.Context, u *auth.User) (Scope, error) {
	start := time.Now()

	if !u.AtRootOrganization() || !auth.Dominates(u.Role, auth.RoleAdmin) {
		s := NewScope(u.OrganizationID)
		r.metrics.RecordScopeResolution(false, s.Len(), time.Since(start))
		return s, nil
	}

	children, err := r.store.FindByParentID(ctx, u.OrganizationID)
	if err != nil {
		return Scope{}, fmt.Errorf("failed to load child organizations of %s: %w", u.OrganizationID, err)
	}

	ids := make([]string, 0, len(children)+1)
	ids = append(ids, u.OrganizationID)
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	s := NewScope(ids...)

	r.metrics.RecordScopeResolution(true, s.Len(), time.Since(start))
	r.logger.WithFields(map[string]interface{}{
		"user_id":       u.ID,
		"organizations": s.Len(),
	}).Debug("expanded organization scope")
	return s, nil
}

type scopeMemo struct {
	mu      sync.Mutex
	entries map[string]Scope
}

// WithScopeMemo installs a request-scoped memo so repeated resolutions for
// the same user snapshot within one request reuse the first result.
func WithScopeMemo(ctx context.Context) context.Context {
	if memoFromContext(ctx) != nil {
		return ctx
	}
	return contextkeys.WithScopeMemo(ctx, &scopeMemo{entries: make(map[string]Scope)})
}

func memoFromContext(ctx context.Context) *scopeMemo {
	m, _ := ctx.Value(contextkeys.ScopeMemoKey).(*scopeMemo)
	return m
}

func memoKey(u *auth.User) string {
	parent := ""
	if u.Organization != nil && u.Organization.ParentID != nil {
		parent = *u.Organization.ParentID
	}
	return u.ID + "|" + string(u.Role) + "|" + u.OrganizationID + "|" + parent
}

// Lister is the slice of Store used to list organizations.
type Lister interface {
	FindByIDs(ctx context.Context, ids []string) ([]*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
}

// Directory answers organization listing questions on behalf of a user.
type Directory struct {
	resolver *ScopeResolver
	store    Lister
}

// NewDirectory creates a Directory
func NewDirectory(resolver *ScopeResolver, store Lister) *Directory {
	return &Directory{resolver: resolver, store: store}
}

// Accessible returns the organizations in the user's scope.
func (d *Directory) Accessible(ctx context.Context, u *auth.User) ([]*Organization, error) {
	scope, err := d.resolver.AccessibleOrganizationIDs(ctx, u)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []*Organization{}, nil
	}
	return d.store.FindByIDs(ctx, scope.IDs())
}

// Visible returns every organization for Owners and the accessible set for
// everyone else.
func (d *Directory) Visible(ctx context.Context, u *auth.User) ([]*Organization, error) {
	if auth.IsOwner(u.Role) {
		return d.store.List(ctx)
	}
	return d.Accessible(ctx, u)
}
