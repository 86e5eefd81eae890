package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/platform/httpserver"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Actor      string
	Roles      []string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	SkipPrefixes  []string
}

func (m Middleware) skip(path string) bool {
	for _, prefix := range m.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		switch {
		case errors.Is(err, ErrUnauthenticated):
			m.deny(w, r, Identity{}, http.StatusUnauthorized, "unauthenticated", "unauthorized", err)
			return
		case err != nil:
			m.deny(w, r, Identity{}, http.StatusUnauthorized, "invalid_token", "invalid_token", err)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, http.StatusForbidden, "forbidden", "forbidden", err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, status int, reason, code string, cause error) {
	event := DenyEvent{
		Time:       time.Now().UTC(),
		Status:     status,
		Reason:     reason,
		Error:      cause.Error(),
		Method:     r.Method,
		Path:       r.URL.Path,
		Roles:      identity.Roles,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	event.RequestID, _ = httpserver.RequestIDFromContext(r.Context())
	if event.RequestID == "" {
		event.RequestID = r.Header.Get("X-Request-Id")
	}
	if reason == "forbidden" {
		event.Actor = identity.Actor()
	}

	logger := m.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Warn("auth deny",
		"reason", reason,
		"status", status,
		"request_id", event.RequestID,
		"method", event.Method,
		"path", event.Path,
		"actor", event.Actor,
		"error", event.Error,
	)
	if m.Audit != nil {
		if err := m.Audit(r.Context(), event); err != nil {
			logger.Warn("audit deny failed", "request_id", event.RequestID, "error", err)
		}
	}
	if event.RequestID != "" && w.Header().Get("X-Request-Id") == "" {
		w.Header().Set("X-Request-Id", event.RequestID)
	}
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": event.RequestID,
	})
}
