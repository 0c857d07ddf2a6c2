package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// CognitoService verifies bearer tokens against a Cognito user pool. Token
// issuance is not offered here: production clients authenticate against the
// pool's own endpoints and present the resulting bearer token.
type CognitoService struct {
	cfg      Config
	verifier *oidc.IDTokenVerifier
}

func NewCognitoService(ctx context.Context, cfg Config) (*CognitoService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeCognito {
		return nil, fmt.Errorf("auth mode must be cognito (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL())
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &CognitoService{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (s *CognitoService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}

	var claims struct {
		Email  string   `json:"email"`
		Groups []string `json:"cognito:groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("decode claims: %w", err)
	}

	identity := Identity{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Groups:  claims.Groups,
	}
	if s.cfg.RequiredGroup != "" && !identity.InGroup(s.cfg.RequiredGroup) {
		return Identity{}, fmt.Errorf("%w: not in group %q", ErrForbidden, s.cfg.RequiredGroup)
	}
	return identity, nil
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
