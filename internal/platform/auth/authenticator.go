package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// New returns the authenticator for cfg.Mode. It returns nil for
// ModeDisabled.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeOIDC:
		return NewOIDCVerifier(ctx, cfg)
	case ModeDev:
		return NewDevAuthenticator(cfg), nil
	default:
		return nil, nil
	}
}

type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   normalizeRoles(cfg.DevRoles),
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// OIDCVerifier validates bearer tokens against the issuer's published keys.
// The token must name at least one configured audience.
type OIDCVerifier struct {
	cfg      Config
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, cfg Config) (*OIDCVerifier, error) {
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", cfg.OIDCIssuerURL, err)
	}
	return &OIDCVerifier{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
	}, nil
}

func (v *OIDCVerifier) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if !v.audienceAllowed(token.Audience) {
		return Identity{}, fmt.Errorf("token audience %v not accepted", token.Audience)
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("decode claims: %w", err)
	}
	return identityFromClaims(claims, v.cfg), nil
}

func (v *OIDCVerifier) audienceAllowed(audiences []string) bool {
	for _, aud := range audiences {
		if slices.Contains(v.cfg.OIDCAudiences, aud) {
			return true
		}
	}
	return false
}

// identityFromClaims reads the caller out of verified claims. Client
// credential tokens name their client in azp, or client_id on issuers that
// predate it.
func identityFromClaims(claims map[string]any, cfg Config) Identity {
	clientID := extractStringClaim(claims, "azp")
	if clientID == "" {
		clientID = extractStringClaim(claims, "client_id")
	}
	return Identity{
		Subject:  extractStringClaim(claims, "sub"),
		Email:    extractStringClaim(claims, cfg.EmailClaim),
		ClientID: clientID,
		Roles:    extractRolesClaim(claims, cfg.RolesClaim),
	}
}

func tokenFromHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func extractStringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

// extractRolesClaim accepts a json array or a comma separated string.
func extractRolesClaim(claims map[string]any, key string) []string {
	switch typed := claims[key].(type) {
	case []any:
		roles := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return normalizeRoles(roles)
	case []string:
		return normalizeRoles(typed)
	case string:
		return normalizeRoles(strings.Split(typed, ","))
	default:
		return nil
	}
}
