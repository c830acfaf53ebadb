// Package access is the gate between an authenticated principal and the
// tenant-owned records it may touch.
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
)

type TenantKind string

const (
	KindClinic   TenantKind = "clinic"
	KindHospital TenantKind = "hospital"
)

func (k TenantKind) Valid() bool {
	return k == KindClinic || k == KindHospital
}

type TenantStatus string

const (
	StatusPendingApproval TenantStatus = "pending_approval"
	StatusActive          TenantStatus = "active"
	StatusSuspended       TenantStatus = "suspended"
)

func (s TenantStatus) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// Tenant is the slice of a clinic or hospital the gate needs.
type Tenant struct {
	ID      uuid.UUID
	Kind    TenantKind
	OwnerID string
	Status  TenantStatus
}

// Resolver finds the tenant of the given kind owned by a principal. A
// principal without a tenant yields (nil, nil).
type Resolver interface {
	Resolve(ctx context.Context, ownerID string, kind TenantKind) (*Tenant, error)
}

type ResolverFunc func(ctx context.Context, ownerID string, kind TenantKind) (*Tenant, error)

func (f ResolverFunc) Resolve(ctx context.Context, ownerID string, kind TenantKind) (*Tenant, error) {
	return f(ctx, ownerID, kind)
}

// RequestContext is the per-request authorization decision. TenantID is the
// only source handlers may use for tenant-owning keys.
type RequestContext struct {
	Principal    auth.Principal
	TenantID     uuid.UUID
	TenantKind   TenantKind
	TenantStatus TenantStatus
}

type ctxKey struct{}

func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	ctx = auth.ContextWithPrincipal(ctx, rc.Principal)
	return context.WithValue(ctx, ctxKey{}, rc)
}

func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// TenantFromContext returns the active tenant of the given kind attached by
// the gate. Handlers mounted behind ActiveTenant(kind) always have one.
func TenantFromContext(ctx context.Context, kind TenantKind) (uuid.UUID, error) {
	rc, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, apperr.Unauthenticated("authentication required")
	}
	if rc.TenantID == uuid.Nil || rc.TenantKind != kind {
		return uuid.Nil, apperr.New(apperr.KindNoTenant, "no "+string(kind)+" registered for this account")
	}
	if rc.TenantStatus != StatusActive {
		return uuid.Nil, notActive(kind, rc.TenantStatus)
	}
	return rc.TenantID, nil
}

// PrincipalFromContext returns the authenticated principal of the request.
func PrincipalFromContext(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, apperr.Unauthenticated("authentication required")
	}
	return p, nil
}

// Room names the realtime room of a tenant.
func Room(kind TenantKind, id uuid.UUID) string {
	return string(kind) + ":" + id.String()
}

func notActive(kind TenantKind, status TenantStatus) error {
	return apperr.Newf(apperr.KindTenantNotActive, "%s is %s", kind, status).
		WithDetail("status", string(status)).
		WithDetail("tenant_kind", string(kind))
}
