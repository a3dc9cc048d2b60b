package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/middleware"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

func TestLogin(t *testing.T) {
	f := newServerFixture(t)
	f.accounts.put(t, viewer, "correct-horse")
	inactive := *uptownViewer
	inactive.IsActive = false
	f.accounts.put(t, &inactive, "correct-horse")

	t.Run("issues a token without prior authentication", func(t *testing.T) {
		w := f.do(t, nil, http.MethodPost, "/api/auth/login", `{"email":" Viewer@Downtown.test ","password":"correct-horse"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body LoginResponse
		decode(t, w, &body)
		require.NotEmpty(t, body.AccessToken)
		assert.Equal(t, viewer.ID, body.User.ID)
		assert.Equal(t, viewer.Email, body.User.Email)
		assert.Equal(t, auth.RoleViewer, body.User.Role)
		assert.Equal(t, downtownID, body.User.OrganizationID)

		claims, err := f.issuer.Authenticate(t.Context(), body.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, viewer.ID, claims.UserID())

		_, stamped := f.accounts.logins[viewer.ID]
		assert.True(t, stamped)

		require.Len(t, f.audit.entries, 1)
		e := f.audit.entries[0]
		assert.Equal(t, audit.ActionLogin, e.Action)
		assert.Equal(t, audit.ResourceAuth, e.Resource)
		assert.Equal(t, viewer.ID, e.UserID)
		assert.Equal(t, downtownID, e.OrganizationID)
		assert.Equal(t, "198.51.100.4", e.IPAddress)
		assert.Equal(t, "api-test", e.UserAgent)
		assert.Equal(t, "User viewer@downtown.test logged in successfully", e.Details)
	})

	rejected := []struct {
		name string
		body string
	}{
		{"wrong password", `{"email":"viewer@downtown.test","password":"wrong-horse"}`},
		{"unknown email", `{"email":"nobody@downtown.test","password":"correct-horse"}`},
		{"inactive account", `{"email":"viewer@uptown.test","password":"correct-horse"}`},
		{"account without password", `{"email":"admin@downtown.test","password":"correct-horse"}`},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.audit.entries)
			w := f.do(t, nil, http.MethodPost, "/api/auth/login", tt.body)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Unauthorized","message":"invalid credentials"}`, w.Body.String())
			assert.Len(t, f.audit.entries, before)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		w := f.do(t, nil, http.MethodPost, "/api/auth/login", `{"email":"not-an-email","password":"short"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		var body struct {
			Details []apperrors.FieldError `json:"details"`
		}
		decode(t, w, &body)
		assert.Len(t, body.Details, 2)
	})

	t.Run("audit failure fails the login", func(t *testing.T) {
		f.audit.err = assert.AnError
		defer func() { f.audit.err = nil }()
		w := f.do(t, nil, http.MethodPost, "/api/auth/login", `{"email":"viewer@downtown.test","password":"correct-horse"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestLoginDisabledWithoutIssuer(t *testing.T) {
	logger := observability.NewNopLogger()
	accounts := newAccountBook(userMap{})
	issuer, err := auth.NewTokenIssuer("api-test-secret", "taskguard", time.Hour)
	require.NoError(t, err)

	srv := NewServer(Config{
		Authn:      middleware.NewAuthMiddleware(accounts, logger, issuer),
		Logger:     logger,
		Registrars: []RouteRegistrar{NewAuthHandlers(accounts, nil, nil, audit.NewRecorder(&memAudit{}, audit.Options{}, logger, nil), logger)},
	})
	f := &serverFixture{server: srv, issuer: issuer}
	w := f.do(t, nil, http.MethodPost, "/api/auth/login", `{"email":"viewer@downtown.test","password":"correct-horse"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegister(t *testing.T) {
	f := newServerFixture(t)

	t.Run("owner registers an admin in a child organization", func(t *testing.T) {
		w := f.do(t, owner, http.MethodPost, "/api/auth/register",
			`{"email":"New.Admin@Downtown.test","password":"s3cret-pw","firstName":"Nia","lastName":"Newton","organizationId":"`+downtownID+`","role":"admin"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var profile ProfileResponse
		decode(t, w, &profile)
		assert.NotEmpty(t, profile.ID)
		assert.Equal(t, "new.admin@downtown.test", profile.Email)
		assert.Equal(t, auth.RoleAdmin, profile.Role)
		assert.Equal(t, downtownID, profile.OrganizationID)

		created := f.accounts.get(profile.ID)
		require.NotNil(t, created)
		assert.True(t, created.IsActive)
		assert.NoError(t, auth.VerifyPassword(f.accounts.hashes[profile.ID], "s3cret-pw"))

		e := f.audit.entries[len(f.audit.entries)-1]
		assert.Equal(t, audit.ActionCreate, e.Action)
		assert.Equal(t, audit.ResourceUser, e.Resource)
		assert.Equal(t, profile.ID, e.ResourceID)
		assert.Equal(t, owner.ID, e.UserID)
		assert.Equal(t, downtownID, e.OrganizationID)

		w = f.do(t, nil, http.MethodPost, "/api/auth/login", `{"email":"new.admin@downtown.test","password":"s3cret-pw"}`)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("admin defaults to a viewer in their own organization", func(t *testing.T) {
		w := f.do(t, admin, http.MethodPost, "/api/auth/register",
			`{"email":"intern@downtown.test","password":"s3cret-pw","firstName":"Ivy","lastName":"Intern"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var profile ProfileResponse
		decode(t, w, &profile)
		assert.Equal(t, auth.RoleViewer, profile.Role)
		assert.Equal(t, downtownID, profile.OrganizationID)
	})

	t.Run("admin cannot grant admin", func(t *testing.T) {
		before := len(f.audit.entries)
		w := f.do(t, admin, http.MethodPost, "/api/auth/register",
			`{"email":"peer@downtown.test","password":"s3cret-pw","firstName":"Pat","lastName":"Peer","role":"admin"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "insufficient_role")

		require.Len(t, f.audit.entries, before+1)
		e := f.audit.entries[before]
		assert.Equal(t, audit.ActionAccessDenied, e.Action)
		assert.Equal(t, rbac.CheckManageUser, e.Metadata["check"])
		_, err := f.accounts.FindByEmail(t.Context(), "peer@downtown.test")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("admin cannot register into a sibling organization", func(t *testing.T) {
		w := f.do(t, admin, http.MethodPost, "/api/auth/register",
			`{"email":"spy@uptown.test","password":"s3cret-pw","firstName":"Sam","lastName":"Spy","organizationId":"`+uptownID+`"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "no_organization_access")
	})

	t.Run("viewer stopped at the role gate", func(t *testing.T) {
		w := f.do(t, viewer, http.MethodPost, "/api/auth/register",
			`{"email":"friend@downtown.test","password":"s3cret-pw","firstName":"Fay","lastName":"Friend"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "insufficient role")
	})

	t.Run("duplicate email", func(t *testing.T) {
		w := f.do(t, owner, http.MethodPost, "/api/auth/register",
			`{"email":"viewer@downtown.test","password":"s3cret-pw","firstName":"Vic","lastName":"Again"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "is already registered")
	})

	t.Run("invalid body", func(t *testing.T) {
		w := f.do(t, owner, http.MethodPost, "/api/auth/register",
			`{"email":"x","password":"1","firstName":" ","lastName":"","organizationId":"hq","role":"root"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		var body struct {
			Details []apperrors.FieldError `json:"details"`
		}
		decode(t, w, &body)
		fields := []string{}
		for _, d := range body.Details {
			fields = append(fields, d.Field)
		}
		assert.ElementsMatch(t, []string{"email", "password", "firstName", "lastName", "organizationId", "role"}, fields)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := f.do(t, nil, http.MethodPost, "/api/auth/register", `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUpdateProfile(t *testing.T) {
	f := newServerFixture(t)

	t.Run("trims and stores changed names", func(t *testing.T) {
		w := f.do(t, viewer, http.MethodPost, "/api/auth/profile", `{"firstName":"  Victor ","lastName":"Viewer"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var profile ProfileResponse
		decode(t, w, &profile)
		assert.Equal(t, "Victor", profile.FirstName)
		assert.Equal(t, "Viewer", profile.LastName)
		assert.Equal(t, "Victor", f.accounts.get(viewer.ID).FirstName)
		assert.Equal(t, "Vic", viewer.FirstName, "fixtures are copied, not mutated")

		require.Len(t, f.audit.entries, 1)
		e := f.audit.entries[0]
		assert.Equal(t, audit.ActionUpdate, e.Action)
		assert.Equal(t, audit.ResourceUser, e.Resource)
		assert.Equal(t, viewer.ID, e.ResourceID)
		assert.Equal(t, viewer.ID, e.UserID)
		assert.Equal(t, "User profile updated: firstName", e.Details)

		w = f.do(t, viewer, http.MethodGet, "/api/auth/profile", "")
		decode(t, w, &profile)
		assert.Equal(t, "Victor", profile.FirstName)
	})

	t.Run("unchanged values write nothing", func(t *testing.T) {
		before := len(f.audit.entries)
		w := f.do(t, viewer, http.MethodPost, "/api/auth/profile", `{"firstName":"Victor"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, f.audit.entries, before)
	})

	t.Run("email change", func(t *testing.T) {
		w := f.do(t, viewer, http.MethodPost, "/api/auth/profile", `{"email":"Vic@Downtown.test"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "vic@downtown.test", f.accounts.get(viewer.ID).Email)
	})

	t.Run("email owned by someone else", func(t *testing.T) {
		w := f.do(t, viewer, http.MethodPost, "/api/auth/profile", `{"email":"admin@downtown.test"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "is already registered")
	})

	t.Run("rejected bodies", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"firstName":"  "}`, `{"email":"nope"}`, `{"role":"owner"}`} {
			w := f.do(t, viewer, http.MethodPost, "/api/auth/profile", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		assert.Equal(t, auth.RoleViewer, f.accounts.get(viewer.ID).Role)
	})
}
