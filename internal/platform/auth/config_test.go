package auth

import (
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestConfigFromEnvDev(t *testing.T) {
	t.Setenv("AUTH_MODE", "Dev")
	t.Setenv("DEV_AUTH_ROLES", "Operator, viewer,operator")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode=%q, want dev", cfg.Mode)
	}
	if want := []string{"operator", "viewer"}; !reflect.DeepEqual(cfg.DevRoles, want) {
		t.Fatalf("DevRoles=%v, want %v", cfg.DevRoles, want)
	}
}

func TestConfigFromEnvRejectsUnknownMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "ldap")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigFromEnvRejectsUnknownDevRole(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("DEV_AUTH_ROLES", "editor")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestConfigValidateOIDC(t *testing.T) {
	cfg := Config{Mode: ModeOIDC, RolesClaim: "roles", EmailClaim: "email", OIDCIssuerURL: "https://issuer.example"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without audience")
	}
	cfg.OIDCAudiences = []string{"orchestrator"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestTokenFromHeader(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer  abc ":     "abc",
		"Basic dXNlcjpwdw": "",
		"Bearer":           "",
	}
	for header, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := tokenFromHeader(r); got != want {
			t.Fatalf("tokenFromHeader(%q)=%q, want %q", header, got, want)
		}
	}
}

func TestIdentityFromClaims(t *testing.T) {
	cfg := Config{RolesClaim: "groups", EmailClaim: "email"}
	got := identityFromClaims(map[string]any{
		"sub":    "u1",
		"email":  "u1@example.test",
		"groups": []any{"Admin", 7, " runner ", "admin"},
	}, cfg)
	want := Identity{Subject: "u1", Email: "u1@example.test", Roles: []string{"admin", "runner"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("identity=%+v, want %+v", got, want)
	}
}

func TestIdentityFromClientCredentialClaims(t *testing.T) {
	cfg := Config{RolesClaim: "roles", EmailClaim: "email"}
	got := identityFromClaims(map[string]any{
		"sub":       "svc-7",
		"client_id": "task-runner",
		"roles":     "runner",
	}, cfg)
	if got.ClientID != "task-runner" || got.Actor() != "svc-7" {
		t.Fatalf("identity=%+v", got)
	}
	if !got.Can(PermCallback) {
		t.Fatalf("runner token cannot post callbacks")
	}
}

func TestConfigFromEnvAudiences(t *testing.T) {
	t.Setenv("AUTH_MODE", "oidc")
	t.Setenv("OIDC_ISSUER_URL", "https://issuer.example")
	t.Setenv("OIDC_AUDIENCE", "orchestrator-ui,,task-runner")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if want := []string{"orchestrator-ui", "task-runner"}; !reflect.DeepEqual(cfg.OIDCAudiences, want) {
		t.Fatalf("OIDCAudiences=%v, want %v", cfg.OIDCAudiences, want)
	}
}

func TestAudienceAllowed(t *testing.T) {
	v := &OIDCVerifier{cfg: Config{OIDCAudiences: []string{"orchestrator-ui", "task-runner"}}}
	if !v.audienceAllowed([]string{"account", "task-runner"}) {
		t.Fatalf("task-runner audience rejected")
	}
	if v.audienceAllowed([]string{"account"}) {
		t.Fatalf("foreign audience accepted")
	}
}
