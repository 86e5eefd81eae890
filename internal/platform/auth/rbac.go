package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Permission is a bit set of API capabilities.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermExecute
	PermCallback
)

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermExecute:
		return "execute"
	case PermCallback:
		return "callback"
	default:
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
}

const (
	RoleViewer   = "viewer"
	RoleRunner   = "runner"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Runners may only deliver callbacks; they cannot read executions.
var rolePermissions = map[string]Permission{
	RoleViewer:   PermRead,
	RoleRunner:   PermCallback,
	RoleOperator: PermRead | PermExecute,
	RoleAdmin:    PermRead | PermExecute | PermCallback,
}

// RequiredPermission maps a request onto the capability it exercises.
func RequiredPermission(r *http.Request) Permission {
	switch {
	case strings.HasPrefix(r.URL.Path, "/callbacks/"):
		return PermCallback
	case r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions:
		return PermRead
	default:
		return PermExecute
	}
}

func PermissionAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if need := RequiredPermission(r); !identity.Can(need) {
			return fmt.Errorf("%w: %s requires %s", ErrForbidden, identity.Actor(), need)
		}
		return nil
	}
}
