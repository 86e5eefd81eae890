package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticAuthenticator struct {
	identity Identity
	err      error
}

func (a staticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, a.err
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	var denied []DenyEvent
	m := Middleware{
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		Audit: func(ctx context.Context, event DenyEvent) error {
			denied = append(denied, event)
			return nil
		},
	}
	called := false
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/plan-executions/p1", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler called on unauthenticated request")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), `"error":"unauthorized"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
	if len(denied) != 1 || denied[0].Reason != "unauthenticated" || denied[0].RequestID != "req-1" {
		t.Fatalf("denied=%+v", denied)
	}
}

func TestMiddlewareInvalidToken(t *testing.T) {
	m := Middleware{Authenticator: staticAuthenticator{err: errors.New("bad signature")}}
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plan-executions/p1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), `"error":"invalid_token"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestMiddlewareForbidden(t *testing.T) {
	m := Middleware{
		Authenticator: staticAuthenticator{identity: Identity{Subject: "u1", Roles: []string{RoleViewer}}},
		Authorize:     PermissionAuthorizer(),
	}
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plan-executions", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	m := Middleware{
		Authenticator: staticAuthenticator{identity: Identity{Subject: "u1", Roles: []string{RoleOperator}}},
		Authorize:     PermissionAuthorizer(),
	}
	var got Identity
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plan-executions", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNoContent)
	}
	if got.Subject != "u1" {
		t.Fatalf("subject=%q, want u1", got.Subject)
	}
}

func TestMiddlewareSkipPrefixes(t *testing.T) {
	m := Middleware{
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics"},
	}
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMiddlewareForbiddenRecordsActor(t *testing.T) {
	var denied []DenyEvent
	m := Middleware{
		Authenticator: staticAuthenticator{identity: Identity{ClientID: "task-runner", Roles: []string{RoleRunner}}},
		Authorize:     PermissionAuthorizer(),
		Audit: func(ctx context.Context, event DenyEvent) error {
			denied = append(denied, event)
			return errors.New("audit table missing")
		},
	}
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plan-executions/p1", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusForbidden)
	}
	if len(denied) != 1 || denied[0].Actor != "task-runner" {
		t.Fatalf("denied=%+v", denied)
	}
	if !strings.Contains(denied[0].Error, "requires read") {
		t.Fatalf("error=%q", denied[0].Error)
	}
}
