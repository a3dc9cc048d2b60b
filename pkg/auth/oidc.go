package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// OIDCConfig configures ID token verification against an external issuer.
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
	// RoleClaim and OrgClaim name the custom claims carrying the taskguard
	// role and home organization id.
	RoleClaim string
	OrgClaim  string
}

// IDTokenVerifier is the subset of *oidc.IDTokenVerifier used here.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCAuthenticator accepts ID tokens from an OpenID Connect provider.
type OIDCAuthenticator struct {
	verifier  IDTokenVerifier
	roleClaim string
	orgClaim  string
}

// NewOIDCAuthenticator discovers the provider and builds a verifier.
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return NewOIDCAuthenticatorWithVerifier(verifier, cfg), nil
}

// NewOIDCAuthenticatorWithVerifier wraps an existing verifier.
func NewOIDCAuthenticatorWithVerifier(verifier IDTokenVerifier, cfg OIDCConfig) *OIDCAuthenticator {
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = "role"
	}
	orgClaim := cfg.OrgClaim
	if orgClaim == "" {
		orgClaim = "organizationId"
	}
	return &OIDCAuthenticator{verifier: verifier, roleClaim: roleClaim, orgClaim: orgClaim}
}

// Authenticate verifies the ID token and maps its claims.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %v: %w", err, apperrors.ErrUnauthorized)
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %v: %w", err, apperrors.ErrUnauthorized)
	}

	claims := &Claims{}
	claims.Subject = idToken.Subject
	claims.Issuer = idToken.Issuer
	if email, ok := raw["email"].(string); ok {
		claims.Email = email
	}
	if org, ok := raw[a.orgClaim].(string); ok {
		claims.OrganizationID = org
	}
	role, _ := raw[a.roleClaim].(string)
	claims.Role = Role(role)
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid role claim %q: %w", role, apperrors.ErrUnauthorized)
	}
	return claims, nil
}
