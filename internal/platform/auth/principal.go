// Package auth verifies bearer credentials and produces the request
// principal. Verification is re-run for every request; only signing keys are
// cached, never verification results.
package auth

import (
	"context"
	"strings"

	"github.com/medevac/medevac/internal/platform/apperr"
)

// Role is the coarse role attribute carried by a principal.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is an authenticated identity.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the principal may approve and reject tenants.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Verifier turns a bearer credential into a Principal.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Principal, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, credential string) (Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (Principal, error) {
	return f(ctx, credential)
}

type contextKey string

const principalKey contextKey = "principal"

// ContextWithPrincipal attaches the verified principal to ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached by the access gate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.ID != ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.Unauthenticated("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", apperr.Unauthenticated("invalid authorization format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", apperr.Unauthenticated("missing bearer token")
	}
	return token, nil
}

// Roles assigns the role attribute. A principal is an admin when the token
// says so, or when its email is on the bootstrap admin list.
type Roles struct {
	admins map[string]struct{}
}

func NewRoles(adminEmails []string) *Roles {
	r := &Roles{admins: make(map[string]struct{}, len(adminEmails))}
	for _, e := range adminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			r.admins[e] = struct{}{}
		}
	}
	return r
}

// Assign returns the role for a principal with the given email and the role
// claimed by the identity provider (may be empty).
func (r *Roles) Assign(email, claimed string) Role {
	if strings.EqualFold(claimed, string(RoleAdmin)) {
		return RoleAdmin
	}
	if r != nil {
		if _, ok := r.admins[strings.ToLower(email)]; ok {
			return RoleAdmin
		}
	}
	return RoleUser
}
