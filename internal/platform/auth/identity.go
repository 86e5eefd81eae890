package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated caller. Task runners authenticate with
// client credentials, so their tokens carry a client id and no email.
type Identity struct {
	Subject  string
	Email    string
	ClientID string
	Roles    []string
}

// Actor names the caller in plan executions and audit rows.
func (i Identity) Actor() string {
	for _, candidate := range []string{i.Email, i.Subject, i.ClientID} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	return "anonymous"
}

func (i Identity) Can(p Permission) bool {
	for _, role := range i.Roles {
		if rolePermissions[role]&p == p {
			return true
		}
	}
	return false
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
