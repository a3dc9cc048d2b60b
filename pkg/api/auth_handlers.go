package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/middleware"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// EntryRecorder appends audit entries.
type EntryRecorder interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// AuthRecorder records session events and refused registrations.
type AuthRecorder interface {
	EntryRecorder
	DenialRecorder
}

// AccountStore is the user persistence behind the auth endpoints.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	Create(ctx context.Context, u *auth.User, passwordHash string) error
	PasswordHash(ctx context.Context, id string) (string, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error
	UpdateProfile(ctx context.Context, u *auth.User) error
}

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	Issue(u *auth.User) (string, error)
}

var errInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperrors.ErrUnauthorized)

// AuthHandlers serves login, registration and the caller's own profile.
type AuthHandlers struct {
	accounts AccountStore
	issuer   TokenIssuer
	policy   *rbac.Engine
	recorder AuthRecorder
	logger   *observability.Logger
	now      func() time.Time
}

// NewAuthHandlers creates AuthHandlers. A nil issuer disables password
// login; tokens then come from the external identity provider only.
func NewAuthHandlers(accounts AccountStore, issuer TokenIssuer, policy *rbac.Engine, recorder AuthRecorder, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		accounts: accounts,
		issuer:   issuer,
		policy:   policy,
		recorder: recorder,
		logger:   logger.WithField("component", "auth-api"),
		now:      time.Now,
	}
}

// RegisterPublicRoutes registers the routes reachable without a token.
func (h *AuthHandlers) RegisterPublicRoutes(router *mux.Router) {
	if h.issuer == nil {
		return
	}
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/profile", h.profile).Methods(http.MethodGet)
	router.HandleFunc("/auth/profile", h.updateProfile).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)

	admins := router.NewRoute().Subrouter()
	admins.Use(middleware.RequireRole(auth.RoleAdmin))
	admins.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	u, err := h.authenticate(r.Context(), normalizeEmail(req.Email), req.Password)
	if errors.Is(err, apperrors.ErrUnauthorized) {
		observability.FromContext(r.Context(), h.logger).WithField("email", req.Email).Info("login rejected")
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, r, h.logger, "failed to authenticate", err)
		return
	}

	token, err := h.issuer.Issue(u)
	if err != nil {
		writeError(w, r, h.logger, "failed to issue token", err)
		return
	}

	now := h.now().UTC()
	if err := h.accounts.RecordLogin(r.Context(), u.ID, now); err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).Warn("failed to stamp last login")
	} else {
		u.LastLoginAt = &now
	}

	err = h.recorder.Record(r.Context(), &audit.Entry{
		Action:         audit.ActionLogin,
		Resource:       audit.ResourceAuth,
		UserID:         u.ID,
		OrganizationID: u.OrganizationID,
		Details:        fmt.Sprintf("User %s logged in successfully", u.Email),
	})
	if err != nil {
		writeError(w, r, h.logger, "failed to record login", err)
		return
	}
	_ = httputil.WriteSuccess(w, LoginResponse{AccessToken: token, User: newProfile(u)})
}

// authenticate returns errInvalidCredentials for an unknown email, an
// inactive account and a wrong password alike.
func (h *AuthHandlers) authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	u, err := h.accounts.FindByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, errInvalidCredentials
	}

	hash, err := h.accounts.PasswordHash(ctx, u.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(hash, password); err != nil {
		return nil, errInvalidCredentials
	}
	return u, nil
}

// register handles POST /auth/register. The caller creates the account in
// an organization they can access, with a role they may assign.
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req RegisterRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	role := req.Role
	if role == "" {
		role = auth.RoleViewer
	}
	orgID := req.OrganizationID
	if orgID == "" {
		orgID = actor.OrganizationID
	}

	if !auth.CanAssignRole(actor.Role, role) {
		h.deny(w, r, actor, orgID, &rbac.DeniedError{Check: rbac.CheckManageUser, Reason: rbac.ReasonInsufficientRole})
		return
	}
	access, err := h.policy.OrganizationAccess(r.Context(), actor, orgID)
	if err != nil {
		writeError(w, r, h.logger, "organization access check failed", err)
		return
	}
	if !access.Allowed {
		h.deny(w, r, actor, orgID, &rbac.DeniedError{Check: rbac.CheckOrganizationAccess, Reason: access.Reason})
		return
	}

	email := normalizeEmail(req.Email)
	if err := h.ensureEmailFree(r.Context(), email, ""); err != nil {
		writeError(w, r, h.logger, "failed to check email", err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, h.logger, "failed to hash password", err)
		return
	}
	u := &auth.User{
		Email:          email,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Role:           role,
		IsActive:       true,
		OrganizationID: orgID,
	}
	if err := h.accounts.Create(r.Context(), u, hash); err != nil {
		writeError(w, r, h.logger, "failed to create user", err)
		return
	}

	err = h.recorder.Record(r.Context(), &audit.Entry{
		Action:         audit.ActionCreate,
		Resource:       audit.ResourceUser,
		ResourceID:     u.ID,
		UserID:         actor.ID,
		OrganizationID: orgID,
		Details:        fmt.Sprintf("User %s registered successfully", u.Email),
		Metadata:       map[string]interface{}{"role": string(role)},
	})
	if err != nil {
		writeError(w, r, h.logger, "failed to record registration", err)
		return
	}
	_ = httputil.WriteCreated(w, newProfile(u))
}

func (h *AuthHandlers) deny(w http.ResponseWriter, r *http.Request, actor *auth.User, orgID string, denied *rbac.DeniedError) {
	h.recorder.RecordDenied(r.Context(), actor, audit.ResourceUser, "", orgID, denied)
	httputil.WriteServiceError(w, denied)
}

// ensureEmailFree fails validation when email belongs to someone other
// than selfID.
func (h *AuthHandlers) ensureEmailFree(ctx context.Context, email, selfID string) error {
	existing, err := h.accounts.FindByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return apperrors.NewValidationError("email", "is already registered")
	}
	return nil
}

// profile handles GET /auth/profile
func (h *AuthHandlers) profile(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, newProfile(u))
}

// updateProfile handles POST /auth/profile. Only fields that change are
// written and audited.
func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	updated := *u
	changed := req.Apply(&updated)
	if len(changed) == 0 {
		_ = httputil.WriteSuccess(w, newProfile(u))
		return
	}
	if updated.Email != u.Email {
		if err := h.ensureEmailFree(r.Context(), updated.Email, u.ID); err != nil {
			writeError(w, r, h.logger, "failed to check email", err)
			return
		}
	}
	if err := h.accounts.UpdateProfile(r.Context(), &updated); err != nil {
		writeError(w, r, h.logger, "failed to update profile", err)
		return
	}

	err := h.recorder.Record(r.Context(), &audit.Entry{
		Action:         audit.ActionUpdate,
		Resource:       audit.ResourceUser,
		ResourceID:     u.ID,
		UserID:         u.ID,
		OrganizationID: u.OrganizationID,
		Details:        "User profile updated: " + strings.Join(changed, ", "),
	})
	if err != nil {
		writeError(w, r, h.logger, "failed to record profile update", err)
		return
	}
	_ = httputil.WriteSuccess(w, newProfile(&updated))
}

// logout handles POST /auth/logout. Bearer tokens are stateless, so
// logging out only leaves a trail.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	err := h.recorder.Record(r.Context(), &audit.Entry{
		Action:         audit.ActionLogout,
		Resource:       audit.ResourceAuth,
		UserID:         u.ID,
		OrganizationID: u.OrganizationID,
		Details:        fmt.Sprintf("User %s logged out", u.Email),
	})
	if err != nil {
		writeError(w, r, h.logger, "failed to record logout", err)
		return
	}
	_ = httputil.WriteSuccess(w, messageResponse{Message: "Logged out successfully"})
}
