package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
)

type fakeScopes struct {
	scope orgs.Scope
	err   error
	calls int
}

func (f *fakeScopes) AccessibleOrganizationIDs(context.Context, *auth.User) (orgs.Scope, error) {
	f.calls++
	return f.scope, f.err
}

func newEngine(scopes ScopeSource, opts Options) *Engine {
	return NewEngine(scopes, opts, observability.NewNopLogger(), nil)
}

func TestEngine_DefaultKeepsRootOverGrant(t *testing.T) {
	scopes := &fakeScopes{scope: orgs.NewScope("hq", "downtown", "uptown")}
	e := newEngine(scopes, Options{})

	d, err := e.OrganizationAccess(context.Background(), rootUser("a", auth.RoleAdmin), "foreign")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, scopes.calls, "default mode never consults the resolver")
}

func TestEngine_StrictScope(t *testing.T) {
	scopes := &fakeScopes{scope: orgs.NewScope("hq", "downtown", "uptown")}
	e := newEngine(scopes, Options{StrictOrgScope: true})
	ctx := context.Background()
	admin := rootUser("a", auth.RoleAdmin)

	t.Run("child in scope", func(t *testing.T) {
		d, err := e.ViewTask(ctx, admin, ownedBy("downtown"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("foreign organization denied", func(t *testing.T) {
		d, err := e.ViewTask(ctx, admin, ownedBy("foreign"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoOrganizationAccess, d.Reason)
	})

	t.Run("home organization skips resolver", func(t *testing.T) {
		before := scopes.calls
		d, err := e.ViewTask(ctx, admin, ownedBy("hq"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, before, scopes.calls)
	})

	t.Run("resolver failure fails closed", func(t *testing.T) {
		failing := newEngine(&fakeScopes{err: errors.New("db down")}, Options{StrictOrgScope: true})
		d, err := failing.DeleteTask(ctx, admin, ownedBy("downtown"))
		assert.Error(t, err)
		assert.False(t, d.Allowed)
	})
}

func TestEngine_TaskChecks(t *testing.T) {
	e := newEngine(&fakeScopes{}, Options{})
	ctx := context.Background()

	t.Run("viewer create denied by role", func(t *testing.T) {
		d, err := e.CreateTask(ctx, childUser("v", auth.RoleViewer, "downtown"), "downtown")
		require.NoError(t, err)
		assert.Equal(t, ReasonInsufficientRole, d.Reason)
	})

	t.Run("admin create outside scope", func(t *testing.T) {
		d, err := e.CreateTask(ctx, childUser("a", auth.RoleAdmin, "downtown"), "uptown")
		require.NoError(t, err)
		assert.Equal(t, ReasonNoOrganizationAccess, d.Reason)
	})

	t.Run("viewer delete denied by role", func(t *testing.T) {
		d, err := e.DeleteTask(ctx, childUser("v", auth.RoleViewer, "downtown"), ownedBy("downtown"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonInsufficientRole, d.Reason)
		assert.True(t, errors.Is(d.Err(CheckDeleteTask), apperrors.ErrForbidden))
	})

	t.Run("viewer edits any field by default", func(t *testing.T) {
		d, err := e.EditTask(ctx, childUser("v", auth.RoleViewer, "downtown"), ownedBy("downtown"), TaskFields)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestEngine_ViewerFieldRestriction(t *testing.T) {
	fields, err := ParseFields([]string{"status", "description"})
	require.NoError(t, err)
	e := newEngine(&fakeScopes{}, Options{ViewerEditableFields: fields})
	ctx := context.Background()
	viewer := childUser("v", auth.RoleViewer, "downtown")

	d, err := e.EditTask(ctx, viewer, ownedBy("downtown"), []Field{FieldStatus})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.EditTask(ctx, viewer, ownedBy("downtown"), []Field{FieldStatus, FieldPriority})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientRole, d.Reason)

	admin := childUser("a", auth.RoleAdmin, "downtown")
	d, err = e.EditTask(ctx, admin, ownedBy("downtown"), []Field{FieldTitle, FieldPriority})
	require.NoError(t, err)
	assert.True(t, d.Allowed, "restriction only applies to viewers")
}

func TestEngine_ManageUser(t *testing.T) {
	e := newEngine(&fakeScopes{}, Options{})
	ctx := context.Background()

	d, err := e.ManageUser(ctx, rootUser("a", auth.RoleAdmin), rootUser("a2", auth.RoleAdmin))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientRole, d.Reason)

	d, err = e.ManageUser(ctx, childUser("o", auth.RoleOwner, "uptown"), childUser("v", auth.RoleViewer, "downtown"))
	require.NoError(t, err)
	assert.Equal(t, ReasonNoOrganizationAccess, d.Reason)

	d, err = e.ManageUser(ctx, rootUser("o", auth.RoleOwner), childUser("a", auth.RoleAdmin, "downtown"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEngine_ViewUser(t *testing.T) {
	e := newEngine(&fakeScopes{}, Options{})
	ctx := context.Background()
	admin := childUser("a", auth.RoleAdmin, "downtown")

	d, err := e.ViewUser(ctx, admin, rootUser("o", auth.RoleOwner))
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, d.Reason)
	assert.True(t, errors.Is(d.Err(CheckViewUser), apperrors.ErrNotFound))

	d, err = e.ViewUser(ctx, admin, childUser("v", auth.RoleViewer, "uptown"))
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, d.Reason)

	d, err = e.ViewUser(ctx, admin, childUser("v", auth.RoleViewer, "downtown"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.ViewUser(ctx, admin, admin)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEngine_ReadAudit(t *testing.T) {
	e := newEngine(&fakeScopes{}, Options{})
	ctx := context.Background()

	d, _ := e.ReadAudit(ctx, rootUser("v", auth.RoleViewer), "")
	assert.Equal(t, ReasonInsufficientRole, d.Reason)

	d, _ = e.ReadAudit(ctx, childUser("a", auth.RoleAdmin, "downtown"), "")
	assert.True(t, d.Allowed)

	d, _ = e.ReadAudit(ctx, childUser("a", auth.RoleAdmin, "downtown"), "uptown")
	assert.Equal(t, ReasonNoOrganizationAccess, d.Reason)
}

func TestEngine_MissingUserDenies(t *testing.T) {
	e := newEngine(&fakeScopes{}, Options{StrictOrgScope: true})
	ctx := context.Background()
	admin := rootUser("a", auth.RoleAdmin)
	target := childUser("v", auth.RoleViewer, "downtown")

	checks := map[string]func() (Decision, error){
		"organization access": func() (Decision, error) { return e.OrganizationAccess(ctx, nil, "hq") },
		"create task":         func() (Decision, error) { return e.CreateTask(ctx, nil, "hq") },
		"view task":           func() (Decision, error) { return e.ViewTask(ctx, nil, ownedBy("hq")) },
		"edit task":           func() (Decision, error) { return e.EditTask(ctx, nil, ownedBy("hq"), TaskFields) },
		"delete task":         func() (Decision, error) { return e.DeleteTask(ctx, nil, ownedBy("hq")) },
		"manage nil target":   func() (Decision, error) { return e.ManageUser(ctx, admin, nil) },
		"manage nil actor":    func() (Decision, error) { return e.ManageUser(ctx, nil, target) },
		"view nil viewer":     func() (Decision, error) { return e.ViewUser(ctx, nil, target) },
		"view nil target":     func() (Decision, error) { return e.ViewUser(ctx, admin, nil) },
		"read audit":          func() (Decision, error) { return e.ReadAudit(ctx, nil, "") },
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			var (
				d   Decision
				err error
			)
			require.NotPanics(t, func() { d, err = check() })
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonNoOrganizationAccess, d.Reason)
		})
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	e := NewEngine(&fakeScopes{}, Options{}, observability.NewNopLogger(), m)

	_, _ = e.DeleteTask(context.Background(), childUser("v", auth.RoleViewer, "downtown"), ownedBy("downtown"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicyDecisionsTotal.WithLabelValues(CheckDeleteTask, "false", string(ReasonInsufficientRole))))
}

func TestDeniedError(t *testing.T) {
	err := (&Decision{Reason: ReasonNoOrganizationAccess}).Err(CheckViewTask)
	assert.EqualError(t, err, "view_task denied: no_organization_access")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.NoError(t, allow().Err(CheckViewTask))
}
