// Package auth authenticates callers of the orchestrator API. Operators and
// task runners present OIDC bearer tokens; dev mode injects a fixed identity
// for local runs.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode `env:"AUTH_MODE" envDefault:"oidc"`

	RolesClaim string `env:"AUTH_ROLES_CLAIM" envDefault:"roles"`
	EmailClaim string `env:"AUTH_EMAIL_CLAIM" envDefault:"email"`

	OIDCIssuerURL string `env:"OIDC_ISSUER_URL"`

	// OIDCAudiences lists accepted token audiences. Operators and task
	// runners are usually separate clients at the issuer.
	OIDCAudiences []string `env:"OIDC_AUDIENCE" envSeparator:","`

	DevSubject string   `env:"DEV_AUTH_SUBJECT" envDefault:"dev-user"`
	DevEmail   string   `env:"DEV_AUTH_EMAIL" envDefault:"dev-user@example.local"`
	DevRoles   []string `env:"DEV_AUTH_ROLES" envDefault:"admin" envSeparator:","`
}

func ConfigFromEnv() (Config, error) {
	cfg, err := env.Parse[Config]()
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	cfg.DevRoles = normalizeRoles(cfg.DevRoles)
	cfg.OIDCAudiences = slices.DeleteFunc(cfg.OIDCAudiences, func(a string) bool { return strings.TrimSpace(a) == "" })
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RolesClaim) == "" || strings.TrimSpace(c.EmailClaim) == "" {
		return errors.New("AUTH_ROLES_CLAIM and AUTH_EMAIL_CLAIM are required")
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" || len(c.OIDCAudiences) == 0 {
			return errors.New("OIDC_ISSUER_URL and OIDC_AUDIENCE are required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
		}
		for _, role := range c.DevRoles {
			if _, ok := rolePermissions[role]; !ok {
				return fmt.Errorf("DEV_AUTH_ROLES: unknown role %q", role)
			}
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", c.Mode)
	}
	return nil
}

// normalizeRoles lowercases, trims and dedupes, keeping first-seen order.
func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" && !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}
